package synth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/predicate"
	"github.com/spektr-org/widgetkit/source"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func shipments() *source.MemorySource {
	return source.NewMemorySource([]engine.Row{
		{"carrier_name": "Acme", "retail": 100.0, "state": "CA"},
		{"carrier_name": "Birch", "retail": 200.0, "state": "NY"},
		{"carrier_name": "Acme", "retail": 50.0, "state": "OR"},
		{"carrier_name": "Cobalt", "retail": 80.0, "state": "CA"},
	})
}

func call(id, name string, args map[string]any) ToolCall {
	if args == nil {
		args = map[string]any{}
	}
	return ToolCall{ID: id, Name: name, Args: args}
}

func emitBar(x, y, agg string) ToolCall {
	return call("emit", ToolEmitConfiguration, map[string]any{
		"visualizationType": "bar",
		"xField":            x,
		"yField":            y,
		"aggregation":       agg,
		"reasoning":         []any{"grouped by carrier"},
	})
}

func TestRunModelPath(t *testing.T) {
	model := NewScriptedModel(
		Reply(call("1", ToolGetSchema, nil)),
		Reply(call("2", ToolPreviewGrouping, map[string]any{"xField": "carrier_name", "yField": "retail"})),
		Reply(emitBar("carrier_name", "retail", "sum")),
	)
	s := New(model, WithSource(shipments()))

	run := s.Run(context.Background(), Request{Prompt: "retail by carrier"})
	require.NoError(t, run.Err)
	assert.Equal(t, StateDone, run.State)
	assert.Equal(t, 3, run.Turns)
	assert.Equal(t, 3, model.Calls())

	sug := run.Suggestion
	require.NotNil(t, sug)
	assert.Equal(t, OriginModel, sug.Source)
	assert.NotEmpty(t, sug.ID)
	assert.Equal(t, engine.KindBar, sug.Config.Type)
	assert.Equal(t, []string{"grouped by carrier"}, sug.Reasoning)

	require.NotNil(t, sug.SampleData)
	require.Len(t, sug.SampleData.Categories, 3)
	assert.Equal(t, "Birch", sug.SampleData.Categories[0].Name)
	assert.Equal(t, 200.0, sug.SampleData.Categories[0].Value)

	// user, (assistant, tool) x2, assistant(terminal)
	require.Len(t, run.Transcript, 6)
	assert.Equal(t, RoleTool, run.Transcript[2].Role)
	assert.Contains(t, run.Transcript[2].ToolResults[0].Content, "carrier_name")
	assert.Contains(t, run.Transcript[4].ToolResults[0].Content, `"Birch"`)
}

func TestRunLoopExhaustedFallsBack(t *testing.T) {
	model := NewScriptedModel(Reply(call("1", ToolGetSchema, nil)))
	s := New(model, WithSource(shipments()))

	run := s.Run(context.Background(), Request{Prompt: "average cost by carrier"})
	assert.ErrorIs(t, run.Err, ErrLoopExhausted)
	assert.Equal(t, StateError, run.State)
	assert.Equal(t, DefaultMaxTurns, model.Calls())
	assert.Equal(t, DefaultMaxTurns, run.Turns)

	cfg := run.Suggestion.Config
	assert.Equal(t, OriginFallback, run.Suggestion.Source)
	assert.Equal(t, engine.KindBar, cfg.Type)
	assert.Equal(t, engine.AggAvg, cfg.Aggregation)
	assert.Equal(t, "carrier_name", cfg.XField)
	assert.Equal(t, "retail", cfg.YField)
	assert.Contains(t, run.Suggestion.Warnings[0], "loop_exhausted")
}

func TestRunNeverExceedsMaxTurns(t *testing.T) {
	for _, n := range []int{1, 3, 8} {
		model := NewScriptedModel(Reply(call("1", ToolExploreField, map[string]any{"field": "state"})))
		run := New(model, WithSource(shipments()), WithMaxTurns(n)).Run(context.Background(), Request{Prompt: "x"})
		assert.ErrorIs(t, run.Err, ErrLoopExhausted)
		assert.Equal(t, n, model.Calls())
	}
}

func TestRunNaturalCompletionIsFailure(t *testing.T) {
	model := NewScriptedModel(Say(`{"visualizationType":"bar","xField":"carrier_name"}`))
	run := New(model).Run(context.Background(), Request{Prompt: "pie of retail by state"})

	assert.ErrorIs(t, run.Err, ErrNoTerminalCall)
	assert.Equal(t, 1, model.Calls())
	assert.Equal(t, OriginFallback, run.Suggestion.Source)
	assert.Equal(t, engine.KindPie, run.Suggestion.Config.Type)
	assert.Equal(t, "state", run.Suggestion.Config.XField)
}

func TestRunInvalidTerminalIsFailure(t *testing.T) {
	model := NewScriptedModel(Reply(emitBar("", "retail", "sum")))
	run := New(model).Run(context.Background(), Request{Prompt: "total cost"})

	assert.ErrorIs(t, run.Err, ErrInvalidTerminal)
	assert.Equal(t, "invalid_terminal", run.FailureReason())
	assert.Equal(t, OriginFallback, run.Suggestion.Source)
	assert.Equal(t, engine.KindKPI, run.Suggestion.Config.Type)
}

func TestRunAPIErrorFallsBack(t *testing.T) {
	model := NewScriptedModel(Fail(errors.New("connection reset")))
	run := New(model).Run(context.Background(), Request{Prompt: "count by status"})

	var apiErr *APIError
	require.ErrorAs(t, run.Err, &apiErr)
	assert.Equal(t, "scripted", apiErr.Provider)
	assert.Equal(t, OriginFallback, run.Suggestion.Source)
	assert.Equal(t, engine.AggCount, run.Suggestion.Config.Aggregation)
}

func TestRunWithoutModel(t *testing.T) {
	run := New(nil).Run(context.Background(), Request{Prompt: "map of revenue by country"})
	assert.ErrorIs(t, run.Err, ErrNoModel)
	assert.Zero(t, run.Turns)
	assert.Equal(t, engine.KindChoropleth, run.Suggestion.Config.Type)
}

func TestRunParallelToolsSameTranscript(t *testing.T) {
	script := func() *ScriptedModel {
		return NewScriptedModel(
			Reply(
				call("a", ToolExploreField, map[string]any{"field": "state"}),
				call("b", ToolPreviewGrouping, map[string]any{"xField": "state", "yField": "retail"}),
				call("c", ToolExploreField, map[string]any{"field": "nope"}),
				call("d", ToolGetSchema, nil),
			),
			Reply(emitBar("state", "retail", "sum")),
		)
	}

	seq := New(script(), WithSource(shipments())).Run(context.Background(), Request{Prompt: "p"})
	par := New(script(), WithSource(shipments()), WithParallelTools(true)).Run(context.Background(), Request{Prompt: "p"})

	require.NoError(t, seq.Err)
	require.NoError(t, par.Err)
	assert.Equal(t, seq.Transcript, par.Transcript)

	results := par.Transcript[2].ToolResults
	require.Len(t, results, 4)
	assert.Equal(t, []string{"a", "b", "c", "d"}, []string{results[0].CallID, results[1].CallID, results[2].CallID, results[3].CallID})
	assert.True(t, results[2].IsError)
}

func TestRunFiltersAndConditions(t *testing.T) {
	emit := call("emit", ToolEmitConfiguration, map[string]any{
		"visualizationType": "kpi",
		"xField":            "",
		"yField":            "retail",
		"aggregation":       "sum",
		"reasoning":         "total retail outside NY",
		"filters": []any{
			map[string]any{"field": "state", "operator": "neq", "value": "NY"},
			map[string]any{"field": "", "operator": "eq", "value": "x"},
			map[string]any{"field": "carrier_name", "operator": "in", "values": []any{"Acme", "Cobalt"}},
		},
	})
	model := NewScriptedModel(Reply(emit))
	base := []predicate.Condition{{Field: "retail", Operator: predicate.OpGte, Value: 60}}

	run := New(model, WithSource(shipments())).Run(context.Background(), Request{Prompt: "p", Conditions: base})
	require.NoError(t, run.Err)

	sug := run.Suggestion
	require.Len(t, sug.Filters, 2)
	assert.Equal(t, predicate.OpIn, sug.Filters[1].Operator)
	require.NotNil(t, sug.SampleData)
	require.NotNil(t, sug.SampleData.KPI)
	// retail >= 60, state != NY, carrier in (Acme, Cobalt): 100 + 80
	assert.Equal(t, 180.0, sug.SampleData.KPI.Value)
	assert.Equal(t, []string{"total retail outside NY"}, sug.Reasoning)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := NewScriptedModel(Reply(emitBar("state", "retail", "sum")))
	run := New(model, WithSource(shipments())).Run(ctx, Request{Prompt: "retail by state"})

	assert.ErrorIs(t, run.Err, context.Canceled)
	assert.Equal(t, "canceled", run.FailureReason())
	require.NotNil(t, run.Suggestion)
	assert.Nil(t, run.Suggestion.SampleData)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	ok := NewScriptedModel(Reply(emitBar("state", "retail", "sum")))
	New(ok, WithMetrics(m)).Run(context.Background(), Request{Prompt: "p"})
	bad := NewScriptedModel(Say("no"))
	New(bad, WithMetrics(m)).Run(context.Background(), Request{Prompt: "p"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("model")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("no_terminal_call")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues(ToolEmitConfiguration)))
}

func TestPromptIncludesSchemaAndRules(t *testing.T) {
	model := NewScriptedModel(Reply(emitBar("state", "retail", "sum")))
	New(model, WithMaxTurns(5)).Run(context.Background(), Request{
		Prompt:     "p",
		Conditions: []predicate.Condition{{Field: "state", Operator: predicate.OpEq, Value: "CA"}},
	})

	reqs := model.Requests()
	require.Len(t, reqs, 1)
	sys := reqs[0].System
	assert.Contains(t, sys, "Call get_schema first")
	assert.Contains(t, sys, "at most 5 turns")
	assert.Contains(t, sys, "ACTIVE FILTERS")
	assert.Contains(t, sys, "choropleth (geo) [regionField, valueField]")
	assert.Len(t, reqs[0].Tools, 4)
	assert.True(t, strings.HasPrefix(sys, "You configure dashboard widgets"))
}
