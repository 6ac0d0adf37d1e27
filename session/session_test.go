package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/predicate"
	"github.com/spektr-org/widgetkit/shape"
	"github.com/spektr-org/widgetkit/source"
	"github.com/spektr-org/widgetkit/synth"
)

func orders() *source.MemorySource {
	return source.NewMemorySource([]engine.Row{
		{"region": "West", "retail": 120.0, "status": "open"},
		{"region": "East", "retail": 80.0, "status": "closed"},
		{"region": "West", "retail": 30.0, "status": "closed"},
		{"region": "North", "retail": 55.0, "status": "open"},
	})
}

// gatedSource blocks Fetch until release is closed.
type gatedSource struct {
	*source.MemorySource
	entered chan struct{}
	release chan struct{}
}

func newGatedSource() *gatedSource {
	return &gatedSource{MemorySource: orders(), entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedSource) Fetch(ctx context.Context, conds []predicate.Condition, limit int) ([]engine.Row, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.MemorySource.Fetch(ctx, conds, limit)
}

type failingSource struct{ *source.MemorySource }

func (failingSource) Fetch(context.Context, []predicate.Condition, int) ([]engine.Row, error) {
	return nil, &source.QueryError{Op: "fetch", Table: "orders", Err: errors.New("connection refused")}
}

func barByRegion() engine.VisualizationConfig {
	return engine.VisualizationConfig{Type: engine.KindBar, XField: "region", YField: "retail"}
}

func TestSettersBumpVersion(t *testing.T) {
	s := New()
	v1 := s.SetConfig(barByRegion())
	fb := predicate.NewFilterBlock("open", predicate.Condition{Field: "status", Operator: predicate.OpEq, Value: "open"})
	v2 := s.UpsertBlock(fb)
	v3, err := s.SetBlockEnabled(fb.ID, false)
	require.NoError(t, err)
	v4, err := s.RemoveBlock(fb.ID)
	require.NoError(t, err)

	assert.Less(t, v1, v2)
	assert.Less(t, v2, v3)
	assert.Less(t, v3, v4)
	assert.Equal(t, v4, s.Version())
	assert.Equal(t, engine.AggSum, s.Config().Aggregation, "config is normalized")

	_, err = s.RemoveBlock("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.SetBlockEnabled("missing", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlocksAreCopied(t *testing.T) {
	s := New()
	fb := predicate.NewFilterBlock("open", predicate.Condition{Field: "status", Operator: predicate.OpEq, Value: "open"})
	s.UpsertBlock(fb)

	fb.Conditions[0].Value = "closed"
	got := s.Blocks()
	require.Len(t, got, 1)
	assert.Equal(t, "open", got[0].(*predicate.FilterBlock).Conditions[0].Value)

	got[0].(*predicate.FilterBlock).Label = "changed"
	assert.Equal(t, "open", s.Blocks()[0].(*predicate.FilterBlock).Label)

	// Upsert with the same ID replaces in place.
	s.UpsertBlock(fb)
	require.Len(t, s.Blocks(), 1)
	assert.Equal(t, "closed", s.Conditions()[0].Value)
}

func TestRefreshReady(t *testing.T) {
	s := New(WithSource(orders()))
	s.SetConfig(barByRegion())
	s.UpsertBlock(predicate.NewFilterBlock("", predicate.Condition{Field: "status", Operator: predicate.OpEq, Value: "closed"}))
	s.UpsertBlock(predicate.NewAIBlock("only big orders")) // pending, contributes nothing

	p, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PreviewReady, p.Status)
	require.Len(t, p.Result.Categories, 2)
	assert.Equal(t, "East", p.Result.Categories[0].Name)
	assert.Equal(t, 80.0, p.Result.Categories[0].Value)
	assert.Equal(t, p, s.Preview())
}

func TestPreviewKeepsConfigItWasComputedFrom(t *testing.T) {
	s := New(WithSource(orders()))
	s.SetConfig(barByRegion())
	want := s.Config()

	p, err := s.Refresh(context.Background())
	require.NoError(t, err)
	s.SetConfig(engine.VisualizationConfig{Type: engine.KindPie, XField: "status"})

	assert.Equal(t, want, p.Config)
	assert.Equal(t, "region", p.Config.XField)
	assert.Equal(t, "status", s.Config().XField)
}

func TestRefreshEmpty(t *testing.T) {
	s := New(WithSource(orders()))
	s.SetConfig(barByRegion())
	s.UpsertBlock(predicate.NewFilterBlock("", predicate.Condition{Field: "region", Operator: predicate.OpEq, Value: "South"}))

	p, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PreviewEmpty, p.Status)
	assert.Empty(t, p.Result.Categories)
}

func TestRefreshInvalid(t *testing.T) {
	s := New(WithSource(orders()))
	s.SetConfig(engine.VisualizationConfig{Type: engine.KindScatter, XField: "retail"})

	p, err := s.Refresh(context.Background())
	var verr *shape.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, PreviewInvalid, p.Status)
	assert.Equal(t, []string{shape.FieldY}, p.Missing)
	assert.Nil(t, p.Result)
}

func TestRefreshQueryError(t *testing.T) {
	s := New(WithSource(failingSource{orders()}))
	s.SetConfig(barByRegion())

	p, err := s.Refresh(context.Background())
	var qerr *source.QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, PreviewError, p.Status)
	assert.Contains(t, p.Error, "connection refused")
	assert.Nil(t, p.Result, "no aggregation on a failed fetch")
}

func TestRefreshWithoutSource(t *testing.T) {
	s := New()
	s.SetConfig(barByRegion())
	_, err := s.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestRefreshDiscardedAfterMutation(t *testing.T) {
	src := newGatedSource()
	s := New(WithSource(src))
	s.SetConfig(barByRegion())

	done := make(chan error, 1)
	go func() {
		_, err := s.Refresh(context.Background())
		done <- err
	}()
	<-src.entered
	s.SetConfig(engine.VisualizationConfig{Type: engine.KindPie, XField: "status"})
	close(src.release)

	assert.ErrorIs(t, <-done, ErrStale)
	assert.Equal(t, PreviewIdle, s.Preview().Status)
}

func TestRefreshDiscardedAfterNewerRefresh(t *testing.T) {
	src := newGatedSource()
	s := New(WithSource(src))
	s.SetConfig(barByRegion())

	first := make(chan error, 1)
	go func() {
		_, err := s.Refresh(context.Background())
		first <- err
	}()
	<-src.entered

	second := make(chan Preview, 1)
	go func() {
		p, _ := s.Refresh(context.Background())
		second <- p
	}()
	<-src.entered
	close(src.release)

	newer := <-second
	assert.ErrorIs(t, <-first, ErrStale)
	assert.Equal(t, PreviewReady, newer.Status)
	assert.Equal(t, newer.Token, s.Preview().Token)
}

func TestSuggestAndAccept(t *testing.T) {
	model := synth.NewScriptedModel(synth.Reply(synth.ToolCall{
		ID:   "1",
		Name: synth.ToolEmitConfiguration,
		Args: map[string]any{
			"visualizationType": "pie",
			"xField":            "region",
			"yField":            "retail",
			"aggregation":       "sum",
			"reasoning":         "share by region",
			"filters": []any{
				map[string]any{"field": "status", "operator": "eq", "value": "open"},
			},
		},
	}))
	src := orders()
	s := New(WithSource(src), WithSynthesizer(synth.New(model, synth.WithSource(src))))
	before := s.Version()

	run, err := s.Suggest(context.Background(), "share of retail by region")
	require.NoError(t, err)
	require.NoError(t, run.Err)
	sug := s.Suggestion()
	require.NotNil(t, sug)
	assert.Equal(t, run.Suggestion, sug)
	assert.Equal(t, before, s.Version(), "suggesting does not mutate config")

	_, err = s.AcceptSuggestion("other-id")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.AcceptSuggestion(sug.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.KindPie, s.Config().Type)
	blocks := s.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, []predicate.Condition{{Field: "status", Operator: predicate.OpEq, Value: "open"}}, blocks[0].(*predicate.FilterBlock).Conditions)
	assert.Nil(t, s.Suggestion())

	_, err = s.AcceptSuggestion(sug.ID)
	assert.ErrorIs(t, err, ErrNotFound, "a suggestion is accepted once")

	p, err := s.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Result.Categories, 2)
	assert.Equal(t, "West", p.Result.Categories[0].Name)
}

func TestSuggestStaleAfterMutation(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{})
	model := &blockingModel{entered: entered, gate: gate}
	s := New(WithSynthesizer(synth.New(model)))

	done := make(chan error, 1)
	go func() {
		_, err := s.Suggest(context.Background(), "total revenue")
		done <- err
	}()
	<-entered
	s.SetConfig(barByRegion())
	close(gate)

	assert.ErrorIs(t, <-done, ErrStale)
	assert.Nil(t, s.Suggestion())
}

func TestSuggestWithoutSynthesizerFallsBack(t *testing.T) {
	s := New()
	run, err := s.Suggest(context.Background(), "total revenue")
	require.NoError(t, err)
	assert.ErrorIs(t, run.Err, synth.ErrNoModel)
	assert.Equal(t, synth.OriginFallback, s.Suggestion().Source)
}

// blockingModel answers with free text once gate is closed.
type blockingModel struct {
	entered chan struct{}
	gate    chan struct{}
}

func (m *blockingModel) Name() string { return "blocking" }

func (m *blockingModel) Generate(ctx context.Context, _ synth.ModelRequest) (*synth.ModelResponse, error) {
	close(m.entered)
	<-m.gate
	return &synth.ModelResponse{Text: "done", StopReason: synth.StopEndTurn}, nil
}

func TestDraftRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := New(WithID("w1"), WithDraftStore(store))
	s.SetConfig(barByRegion())
	s.UpsertBlock(predicate.NewFilterBlock("open", predicate.Condition{Field: "status", Operator: predicate.OpEq, Value: "open"}))
	require.NoError(t, s.SaveDraft(ctx))

	restored := New(WithID("w1"), WithDraftStore(store))
	ok, err := restored.LoadDraft(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, s.Config(), restored.Config())
	assert.Equal(t, s.Conditions(), restored.Conditions())

	require.NoError(t, restored.ClearDraft(ctx))
	ok, err = New(WithID("w1"), WithDraftStore(store)).LoadDraft(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewManager(store, nil, WithSource(orders()))

	s, err := m.Create(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	got, err := m.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	same, err := m.Create(ctx, s.ID())
	require.NoError(t, err)
	assert.Same(t, s, same)

	s.SetConfig(barByRegion())
	require.NoError(t, s.SaveDraft(ctx))
	assert.Equal(t, 1, store.Len())

	require.NoError(t, m.Delete(ctx, s.ID()))
	assert.Zero(t, m.Len())
	assert.Zero(t, store.Len())
	_, err = m.Get(s.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, s.ID()), ErrNotFound)
}

func TestManagerResumesDraft(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, &Draft{SessionID: "w9", Config: barByRegion(), Blocks: predicate.Blocks{}}))

	m := NewManager(store, nil, WithSource(orders()))
	s, err := m.Create(ctx, "w9")
	require.NoError(t, err)
	assert.Equal(t, "region", s.Config().XField)

	p, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, PreviewReady, p.Status)
	assert.Equal(t, []string{"w9"}, m.IDs())
}
