package schema

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/source"
)

// ============================================================================
// DISCOVERY TESTS
// ============================================================================

// Sample Jira CSV export
var jiraCSV = []byte(`Issue Key,Summary,Status,Priority,Issue Type,Assignee,Component,Sprint,Story Points,Time Spent Hours,Created,Resolved
PROJ-101,Login timeout on mobile,In Progress,P1 - Critical,Bug,alice@corp.com,Backend,Sprint 17,5,12.5,2026-01-15,
PROJ-102,Dashboard crash on Safari,To Do,P2 - High,Bug,bob@corp.com,Frontend,Sprint 17,3,0,2026-01-16,
PROJ-103,Add dark mode toggle,Done,P3 - Medium,Story,charlie@corp.com,Frontend,Sprint 16,8,16,2026-01-10,2026-01-20
PROJ-104,Update user docs,In Review,P4 - Low,Task,alice@corp.com,Documentation,Sprint 17,2,4,2026-01-18,
PROJ-105,Payment fails with expired card,In Progress,P1 - Critical,Bug,dave@corp.com,Backend,Sprint 17,8,20,2026-01-12,
PROJ-106,Optimize DB queries,Done,P2 - High,Task,eve@corp.com,Backend,Sprint 16,5,10,2026-01-08,2026-01-15
PROJ-107,Mobile push notifications,To Do,P2 - High,Story,frank@corp.com,Mobile,Sprint 18,13,0,2026-01-20,
PROJ-108,Fix memory leak in worker,In Progress,P1 - Critical,Bug,alice@corp.com,Infrastructure,Sprint 17,5,8,2026-01-14,
PROJ-109,Redesign settings page,Done,P3 - Medium,Story,bob@corp.com,Frontend,Sprint 15,8,14,2026-01-05,2026-01-12
PROJ-110,API rate limiting,Done,P2 - High,Story,charlie@corp.com,Backend,Sprint 16,5,9,2026-01-09,2026-01-18
PROJ-111,Add export to CSV,To Do,P3 - Medium,Story,dave@corp.com,Backend,Sprint 18,3,0,2026-01-22,
PROJ-112,Update SSL certs,Done,P1 - Critical,Task,eve@corp.com,Infrastructure,Sprint 16,1,2,2026-01-07,2026-01-07
`)

// Sample finance ledger
var financeCSV = []byte(`Month,Location,Category,Field,Currency,Amount
Jan-2026,Singapore,Income,Salary,SGD,8500.00
Jan-2026,Singapore,Expense,Rent,SGD,2200.00
Jan-2026,Singapore,Expense,Groceries,SGD,450.00
Jan-2026,Singapore,Expense,Transport,SGD,120.00
Jan-2026,India,Income,Rental Income,INR,25000.00
Jan-2026,India,Expense,Property Tax,INR,5000.00
Feb-2026,Singapore,Income,Salary,SGD,8500.00
Feb-2026,Singapore,Expense,Rent,SGD,2200.00
Feb-2026,Singapore,Expense,Internet,SGD,49.90
Feb-2026,India,Transfer,ToIndia,INR,50000.00
`)

func TestDiscoverJiraCSV(t *testing.T) {
	config, err := DiscoverFromCSV(jiraCSV)
	require.NoError(t, err)

	assert.Equal(t, 12, config.RowCount)
	assert.Equal(t, "CSV", config.DiscoveredFrom)

	dimKeys := config.DimensionKeys()
	for _, key := range []string{"status", "priority", "issue_type", "assignee", "component", "sprint", "created", "resolved"} {
		assert.Contains(t, dimKeys, key)
	}

	measKeys := config.MeasureKeys()
	assert.Contains(t, measKeys, "story_points")
	assert.Contains(t, measKeys, "time_spent_hours")
	assert.NotContains(t, measKeys, "record_count")

	skipped := make([]string, len(config.SkippedColumns))
	for i, s := range config.SkippedColumns {
		skipped[i] = s.Column
		assert.True(t, s.Recoverable, s.Column)
	}
	assert.ElementsMatch(t, []string{"issue_key", "summary"}, skipped)

	created, ok := config.Dimension("created")
	require.True(t, ok)
	assert.True(t, created.IsTemporal)

	resolved, ok := config.Dimension("resolved")
	require.True(t, ok)
	assert.Equal(t, 7, resolved.NullCount)

	points, ok := config.Measure("story_points")
	require.True(t, ok)
	assert.Equal(t, "points", points.Unit)
	assert.Equal(t, "avg", points.DefaultAggregation)
	assert.Equal(t, 1.0, points.Min)
	assert.Equal(t, 13.0, points.Max)

	hours, ok := config.Measure("time_spent_hours")
	require.True(t, ok)
	assert.Equal(t, "hours", hours.Unit)
	assert.Equal(t, "Time Spent Hours", hours.DisplayName)
}

func TestDiscoverFinanceCSV(t *testing.T) {
	config, err := DiscoverFromCSV(financeCSV)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"month", "location", "category", "field", "currency"}, config.DimensionKeys())
	assert.Equal(t, []string{"amount"}, config.MeasureKeys())
	assert.Equal(t, "amount", config.PrimaryMeasure())

	amount, _ := config.Measure("amount")
	assert.True(t, amount.IsCurrency)
	assert.Equal(t, "sum", amount.DefaultAggregation)
	assert.Equal(t, 49.90, amount.Min)
	assert.Equal(t, 50000.0, amount.Max)

	month, _ := config.Dimension("month")
	assert.True(t, month.IsTemporal)
	assert.Equal(t, "MMM-yyyy", month.TemporalFormat)

	field, _ := config.Dimension("field")
	assert.Equal(t, "category", field.Parent, "each field belongs to exactly one category")

	location, _ := config.Dimension("location")
	assert.True(t, location.IsGeographic)
	assert.Equal(t, "low", location.CardinalityHint)
	assert.Equal(t, []string{"India", "Singapore"}, location.SampleValues)
}

func TestDiscoverWithRecovery(t *testing.T) {
	config, err := DiscoverFromCSV(jiraCSV, DiscoverOptions{RecoverColumns: []string{"Issue_Key"}})
	require.NoError(t, err)

	assert.Contains(t, config.DimensionKeys(), "issue_key")
	require.Len(t, config.SkippedColumns, 1)
	assert.Equal(t, "summary", config.SkippedColumns[0].Column)
}

func TestDiscoverRows(t *testing.T) {
	rows := []engine.Row{
		{"carrier_name": "Acme", "retail": 100.0, "state": "CA", "rush": true},
		{"carrier_name": "Birch", "retail": 200.5, "state": "NY", "rush": false},
		{"carrier_name": "Acme", "retail": 50.0, "state": nil, "rush": false},
	}
	config, err := Discover(rows, nil, DiscoverOptions{Name: "shipments"})
	require.NoError(t, err)

	assert.Equal(t, "shipments", config.Name)
	assert.Equal(t, []string{"retail"}, config.MeasureKeys())
	assert.ElementsMatch(t, []string{"carrier_name", "state", "rush"}, config.DimensionKeys())

	retail, _ := config.Measure("retail")
	assert.True(t, retail.IsCurrency)

	state, _ := config.Dimension("state")
	assert.Equal(t, 1, state.NullCount)
	assert.True(t, state.IsGeographic)
}

func TestDiscoverEmpty(t *testing.T) {
	_, err := Discover(nil, []string{"a"})
	assert.Error(t, err)

	_, err = Discover([]engine.Row{{}}, nil)
	assert.Error(t, err)
}

func TestDiscoverAllNullColumnSkipped(t *testing.T) {
	rows := []engine.Row{{"a": "x", "b": nil}, {"a": "y", "b": nil}}
	config, err := Discover(rows, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, config.SkippedColumns, 1)
	assert.Equal(t, "b", config.SkippedColumns[0].Column)
	assert.False(t, config.SkippedColumns[0].Recoverable)
}

func TestDescribe(t *testing.T) {
	rows, _, err := source.LoadCSV(bytes.NewReader(financeCSV))
	require.NoError(t, err)

	config, err := Describe(context.Background(), source.NewMemorySource(rows), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, config.RowCount)
	assert.Equal(t, "source", config.DiscoveredFrom)
	assert.Contains(t, config.MeasureKeys(), "amount")
}

func TestDisplayName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"story_points", "Story Points"},
		{"retail", "Retail"},
		{"carrier-name", "Carrier Name"},
		{"Already Nice", "Already Nice"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, toDisplayName(tt.in), tt.in)
	}
}

func TestTemporalDetection(t *testing.T) {
	tests := []struct {
		samples []string
		want    bool
		format  string
	}{
		{[]string{"Jan-2026", "Feb-2026", "Mar-2026"}, true, "MMM-yyyy"},
		{[]string{"2026-01", "2026-02"}, true, "yyyy-MM"},
		{[]string{"Q1-2026", "Q2-2026"}, true, "QN-yyyy"},
		{[]string{"Sprint 17", "Sprint 18"}, false, ""},
		{nil, false, ""},
	}
	for _, tt := range tests {
		got, format := detectTemporalPattern(tt.samples)
		assert.Equal(t, tt.want, got, "%v", tt.samples)
		assert.Equal(t, tt.format, format, "%v", tt.samples)
	}
}

func TestUnitFor(t *testing.T) {
	tests := []struct {
		key      string
		unit     string
		currency bool
		agg      string
	}{
		{"retail", "currency", true, "sum"},
		{"unit_price", "currency", true, "sum"},
		{"bonus_percent", "percent", false, "avg"},
		{"time_spent_hours", "hours", false, "sum"},
		{"story_points", "points", false, "avg"},
		{"weight", "units", false, "sum"},
	}
	for _, tt := range tests {
		unit, currency, agg := unitFor(tt.key)
		assert.Equal(t, tt.unit, unit, tt.key)
		assert.Equal(t, tt.currency, currency, tt.key)
		assert.Equal(t, tt.agg, agg, tt.key)
	}
}

func TestDiscoverNoEmptyDimensions(t *testing.T) {
	for name, data := range map[string][]byte{"jira": jiraCSV, "finance": financeCSV} {
		config, err := DiscoverFromCSV(data)
		require.NoError(t, err, name)
		for _, d := range config.Dimensions {
			assert.NotEmpty(t, d.Key, name)
			assert.NotEmpty(t, d.DisplayName, "%s: %s", name, d.Key)
			assert.NotEmpty(t, d.SampleValues, "%s: %s", name, d.Key)
		}
	}
}

func TestExplore(t *testing.T) {
	rows := []engine.Row{
		{"carrier": "A", "retail": 100.0},
		{"carrier": "B", "retail": 200.0},
		{"carrier": "A", "retail": nil},
		{"retail": 60.0},
	}

	p := Explore(rows, "carrier", 0)
	assert.Equal(t, 3, p.Present)
	assert.Equal(t, 0, p.Nulls)
	assert.Equal(t, 2, p.Distinct)
	assert.False(t, p.Numeric)
	assert.Equal(t, []ValueCount{{"A", 2}, {"B", 1}}, p.TopValues)

	p = Explore(rows, "retail", 1)
	assert.Equal(t, 4, p.Present)
	assert.Equal(t, 1, p.Nulls)
	assert.Equal(t, 3, p.Distinct)
	assert.True(t, p.Truncated)
	assert.Len(t, p.TopValues, 1)
	assert.True(t, p.Numeric)
	assert.Equal(t, 60.0, p.Min)
	assert.Equal(t, 200.0, p.Max)
	assert.Equal(t, 120.0, p.Mean)

	p = Explore(rows, "missing", 5)
	assert.Zero(t, p.Present)
	assert.Empty(t, p.TopValues)
}
