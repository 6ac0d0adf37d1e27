package synth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/glossary"
	"github.com/spektr-org/widgetkit/predicate"
	"github.com/spektr-org/widgetkit/schema"
	"github.com/spektr-org/widgetkit/source"
)

// ============================================================================
// SYNTHESIZER — Turn-bounded agent loop
// ============================================================================
// exploring → (tool call / result cycles) → finalizing → done
//                          ↘ error (any state) → keyword fallback
//
// One model call per turn. Exploratory tool results are appended to the
// transcript; emit_configuration ends the loop. Ending a turn without tool
// calls, an invalid terminal payload, a model error or running out of turns
// all fail the run, and a failed run always yields the fallback suggestion.
// ============================================================================

const (
	// DefaultMaxTurns bounds model calls per run.
	DefaultMaxTurns = 8
	// DefaultSampleSize caps rows fetched for tools and sample data.
	DefaultSampleSize = 1000
)

var tracer = otel.Tracer("widgetkit.synth")

// Synthesizer runs synthesis requests. Safe for concurrent use; each run
// is sequential.
type Synthesizer struct {
	model      Model
	src        source.DataSource
	schema     *schema.Config
	glossary   *glossary.Store
	logger     *zap.Logger
	metrics    *Metrics
	limiter    *rate.Limiter
	classifier Classifier
	engineOpts []engine.Option
	maxTurns   int
	sampleSize int
	parallel   bool
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithSource wires the rows tools explore and sample data is computed from.
func WithSource(src source.DataSource) Option {
	return func(s *Synthesizer) { s.src = src }
}

// WithSchema fixes the schema instead of discovering it per run.
func WithSchema(sch *schema.Config) Option {
	return func(s *Synthesizer) { s.schema = sch }
}

// WithGlossary feeds matching terms into the prompt.
func WithGlossary(g *glossary.Store) Option {
	return func(s *Synthesizer) { s.glossary = g }
}

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synthesizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records run and tool metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Synthesizer) { s.metrics = m }
}

// WithMaxTurns overrides DefaultMaxTurns. Values <= 0 are ignored.
func WithMaxTurns(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

// WithSampleSize overrides DefaultSampleSize. Values <= 0 are ignored.
func WithSampleSize(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.sampleSize = n
		}
	}
}

// WithParallelTools dispatches one turn's tool calls concurrently. Results
// are still appended in request order.
func WithParallelTools(on bool) Option {
	return func(s *Synthesizer) { s.parallel = on }
}

// WithRateLimiter throttles model calls across all runs.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(s *Synthesizer) {
		if l != nil {
			s.limiter = l
		}
	}
}

// WithClassifier replaces the fallback keyword tables.
func WithClassifier(c Classifier) Option {
	return func(s *Synthesizer) { s.classifier = c }
}

// WithEngineOptions passes options to the engine when sample data is built.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Synthesizer) { s.engineOpts = append(s.engineOpts, opts...) }
}

// New builds a Synthesizer. model may be nil, in which case every run uses
// the fallback.
func New(model Model, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		model:      model,
		logger:     zap.NewNop(),
		limiter:    rate.NewLimiter(rate.Inf, 1),
		maxTurns:   DefaultMaxTurns,
		sampleSize: DefaultSampleSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request is one synthesis request.
type Request struct {
	Prompt string
	// Conditions are the compiled predicates already active in the editor.
	// Tool results and sample data are computed under them.
	Conditions []predicate.Condition
}

// Suggest runs a request and returns only the suggestion.
func (s *Synthesizer) Suggest(ctx context.Context, prompt string) *WidgetSuggestion {
	return s.Run(ctx, Request{Prompt: prompt}).Suggestion
}

// Run executes one synthesis run. It never fails: Run.Err records why the
// fallback was used and Run.Suggestion is always set.
func (s *Synthesizer) Run(ctx context.Context, req Request) *Run {
	start := time.Now()
	run := &Run{ID: uuid.NewString(), Prompt: req.Prompt, State: StateExploring}

	ctx, span := tracer.Start(ctx, "synth.run", trace.WithAttributes(
		attribute.String("synth.run_id", run.ID),
		attribute.Int("synth.max_turns", s.maxTurns),
	))
	defer span.End()

	tb := newToolbox(s.src, s.schema, req.Conditions, s.sampleSize)
	sug, err := s.loop(ctx, run, tb, req)
	if err != nil {
		run.State = StateError
		run.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, reasonOf(err))

		fb := s.classifier.Classify(req.Prompt)
		fb.Warnings = append([]string{fmt.Sprintf("AI synthesis unavailable (%s); used keyword fallback", reasonOf(err))}, fb.Warnings...)
		sug = &fb
		s.logger.Warn("synthesis fell back to keywords",
			zap.String("run_id", run.ID),
			zap.Int("turns", run.Turns),
			zap.String("reason", reasonOf(err)),
			zap.Error(err))
	} else {
		run.State = StateDone
		sug.Warnings = append(sug.Warnings, tb.unknownFields(sug)...)
	}

	sug.ID = uuid.NewString()
	s.attachSample(ctx, sug, req.Conditions)
	run.Suggestion = sug
	run.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("synth.state", string(run.State)),
		attribute.Int("synth.turns", run.Turns),
		attribute.String("synth.source", string(sug.Source)),
	)
	s.metrics.observeRun(run)
	s.logger.Info("synthesis finished",
		zap.String("run_id", run.ID),
		zap.String("state", string(run.State)),
		zap.String("source", string(sug.Source)),
		zap.String("type", string(sug.Config.Type)),
		zap.Int("turns", run.Turns),
		zap.Duration("duration", run.Duration))
	return run
}

func (s *Synthesizer) loop(ctx context.Context, run *Run, tb *toolbox, req Request) (*WidgetSuggestion, error) {
	if s.model == nil {
		return nil, ErrNoModel
	}

	var terms []glossary.Term
	if s.glossary != nil {
		terms = s.glossary.Current().Lookup(req.Prompt)
	}
	mreq := ModelRequest{
		System: BuildPrompt(PromptInput{
			Schema:     s.schema,
			Terms:      terms,
			Conditions: req.Conditions,
			MaxTurns:   s.maxTurns,
		}),
		Tools: Tools(),
	}
	run.Transcript = []Message{{Role: RoleUser, Text: req.Prompt}}

	for turn := 1; turn <= s.maxTurns; turn++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		run.Turns = turn

		mreq.Messages = run.Transcript
		resp, err := s.generate(ctx, turn, mreq)
		if err != nil {
			return nil, err
		}
		run.Transcript = append(run.Transcript, Message{Role: RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls})

		if len(resp.ToolCalls) == 0 {
			return nil, ErrNoTerminalCall
		}
		for _, tc := range resp.ToolCalls {
			s.metrics.observeTool(tc.Name)
		}

		if terminal := findTerminal(resp.ToolCalls); terminal != nil {
			run.State = StateFinalizing
			return finalize(terminal.Args)
		}

		results, err := s.dispatch(ctx, tb, resp.ToolCalls)
		if err != nil {
			return nil, err
		}
		run.Transcript = append(run.Transcript, Message{Role: RoleTool, ToolResults: results})
	}
	return nil, ErrLoopExhausted
}

// generate makes one traced model call.
func (s *Synthesizer) generate(ctx context.Context, turn int, req ModelRequest) (*ModelResponse, error) {
	ctx, span := tracer.Start(ctx, "synth.turn", trace.WithAttributes(
		attribute.Int("synth.turn", turn),
		attribute.String("synth.model", s.model.Name()),
	))
	defer span.End()

	resp, err := s.model.Generate(ctx, req)
	if err != nil {
		err = asAPIError(s.model.Name(), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		return nil, err
	}
	if resp == nil {
		resp = &ModelResponse{StopReason: StopEndTurn}
	}
	span.SetAttributes(
		attribute.Int("synth.tool_calls", len(resp.ToolCalls)),
		attribute.String("synth.stop_reason", string(resp.StopReason)),
	)
	s.logger.Debug("model turn",
		zap.Int("turn", turn),
		zap.Int("tool_calls", len(resp.ToolCalls)),
		zap.String("stop_reason", string(resp.StopReason)))
	return resp, nil
}

// dispatch executes exploratory tool calls, in request order or
// concurrently. The returned results are always in request order.
func (s *Synthesizer) dispatch(ctx context.Context, tb *toolbox, calls []ToolCall) ([]ToolResult, error) {
	results := make([]ToolResult, len(calls))
	if !s.parallel {
		for i, tc := range calls {
			results[i] = tb.call(ctx, tc)
		}
		return results, ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, tc := range calls {
		g.Go(func() error {
			results[i] = tb.call(gctx, tc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, ctx.Err()
}

// attachSample computes SampleData under the editor's conditions plus the
// suggestion's own filters.
func (s *Synthesizer) attachSample(ctx context.Context, sug *WidgetSuggestion, base []predicate.Condition) {
	if s.src == nil || ctx.Err() != nil {
		return
	}
	conds := append(append([]predicate.Condition{}, base...), sug.Filters...)
	rows, err := s.src.Fetch(ctx, conds, s.sampleSize)
	if err != nil {
		sug.Warnings = append(sug.Warnings, fmt.Sprintf("sample data unavailable: %v", err))
		return
	}
	sug.SampleData = engine.Aggregate(engine.NewSliceView(rows), sug.Config, s.engineOpts...)
}

func findTerminal(calls []ToolCall) *ToolCall {
	for i := range calls {
		if calls[i].Name == ToolEmitConfiguration {
			return &calls[i]
		}
	}
	return nil
}

// asAPIError wraps provider failures. Context errors pass through so
// callers can tell cancellation from an outage.
func asAPIError(provider string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &APIError{Provider: provider, Err: err}
}

// unknownFields warns about config fields the schema does not list. Only
// checked when a schema is already known to the run.
func (tb *toolbox) unknownFields(sug *WidgetSuggestion) []string {
	tb.mu.Lock()
	sch := tb.schema
	tb.mu.Unlock()
	if sch == nil {
		return nil
	}

	cfg := sug.Config
	origin, destination, value := cfg.FlowFields()
	candidates := []string{cfg.XField, cfg.YField, cfg.GroupBy, cfg.RegionField(), cfg.ValueField(), origin, destination, value}
	for _, f := range sug.Filters {
		candidates = append(candidates, f.Field)
	}

	var out []string
	seen := make(map[string]bool)
	for _, f := range candidates {
		if f == "" || seen[f] || sch.HasField(f) {
			continue
		}
		seen[f] = true
		out = append(out, fmt.Sprintf("field %q is not in the dataset schema", f))
	}
	return out
}
