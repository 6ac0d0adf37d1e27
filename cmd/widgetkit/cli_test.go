package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/predicate"
)

func TestParseWhere(t *testing.T) {
	conds, err := parseWhere([]string{"state:IN:CA|NY", "retail:gt:100", "notes:is_null", "carrier:eq:Acme:West"})
	require.NoError(t, err)
	assert.Equal(t, []predicate.Condition{
		{Field: "state", Operator: predicate.OpIn, Value: []any{"CA", "NY"}},
		{Field: "retail", Operator: predicate.OpGt, Value: 100.0},
		{Field: "notes", Operator: predicate.OpIsNull},
		{Field: "carrier", Operator: predicate.OpEq, Value: "Acme:West"},
	}, conds)

	_, err = parseWhere([]string{"state"})
	assert.Error(t, err)
	_, err = parseWhere([]string{"state:like:CA"})
	assert.ErrorContains(t, err, "unknown operator")
}

func TestWriteCSV(t *testing.T) {
	tests := []struct {
		name string
		res  *engine.Result
		want string
	}{
		{"empty", nil, "Result,No data\n"},
		{
			"categories",
			&engine.Result{Family: engine.FamilyCategorical, Categories: []engine.Category{{Name: "CA", Value: 150, Count: 2}, {Name: "NY", Value: 12.5, Count: 1}}},
			"Label,Value,Count\nCA,150,2\nNY,12.50,1\n",
		},
		{
			"grouped",
			&engine.Result{Family: engine.FamilyCategorical, Categories: []engine.Category{
				{Name: "CA", Value: 3, Breakdown: []engine.Category{{Name: "Acme", Value: 1}, {Name: "Birch", Value: 2}}},
				{Name: "NY", Value: 4, Breakdown: []engine.Category{{Name: "Birch", Value: 4}}},
			}},
			"Label,Acme,Birch\nCA,1,2\nNY,0,4\n",
		},
		{
			"kpi",
			&engine.Result{Family: engine.FamilyKPI, RowCount: 3, KPI: &engine.KPIValue{Value: 350, Aggregation: engine.AggSum, Field: "retail"}},
			"Aggregation,Field,Value\nsum,retail,350\n",
		},
		{
			"table",
			&engine.Result{Family: engine.FamilyTable, Rows: []engine.Row{{"b": 2, "a": "x"}, {"a": "y"}}},
			"a,b\nx,2\ny,\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out.csv")
			f, err := os.Create(path)
			require.NoError(t, err)
			require.NoError(t, writeCSV(f, tt.res))
			require.NoError(t, f.Close())

			got, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}
