// Package session owns the editable state of one widget: its logic blocks
// and visualization config. State changes only through setters, and async
// results (previews, suggestions) are applied only while still current.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/predicate"
	"github.com/spektr-org/widgetkit/shape"
	"github.com/spektr-org/widgetkit/source"
	"github.com/spektr-org/widgetkit/synth"
)

// ============================================================================
// EDITING SESSION — Setters + generation tokens
// ============================================================================
// Every setter and every submitted run draws the next value of one
// monotonically increasing counter. A run remembers the counter value of the
// last mutation it saw; its result is applied only if no mutation and no
// newer run of the same kind happened since. Stale results are discarded
// and reported as ErrStale, never merged.
// ============================================================================

var (
	// ErrStale: a newer mutation or run superseded this result.
	ErrStale = errors.New("session: result is stale")
	// ErrNotFound: no block, suggestion, session or draft with that ID.
	ErrNotFound = errors.New("session: not found")
	// ErrNoSource: Refresh was called without a data source.
	ErrNoSource = errors.New("session: no data source")
)

// DefaultFetchLimit caps rows fetched per refresh.
const DefaultFetchLimit = 10000

// PreviewStatus is the visible state of the preview pane.
type PreviewStatus string

const (
	PreviewIdle    PreviewStatus = "idle"    // nothing computed for the current state
	PreviewReady   PreviewStatus = "ready"   // result has data
	PreviewEmpty   PreviewStatus = "empty"   // query ran, no rows matched
	PreviewError   PreviewStatus = "error"   // fetch failed
	PreviewInvalid PreviewStatus = "invalid" // config incomplete for its kind
)

// Preview is the last applied refresh outcome.
type Preview struct {
	Status PreviewStatus `json:"status"`
	Token  uint64        `json:"token"`
	// Config is the visualization config Result was computed from.
	Config    engine.VisualizationConfig `json:"config"`
	Result    *engine.Result             `json:"result,omitempty"`
	Missing   []string                   `json:"missing,omitempty"`
	Error     string                     `json:"error,omitempty"`
	UpdatedAt time.Time                  `json:"updatedAt"`
}

// Session is one widget being edited. Safe for concurrent use.
type Session struct {
	id         string
	src        source.DataSource
	synth      *synth.Synthesizer
	store      DraftStore
	logger     *zap.Logger
	engineOpts []engine.Option
	fetchLimit int

	mu         sync.Mutex
	counter    uint64
	version    uint64 // counter value of the last mutation
	refreshTok uint64
	suggestTok uint64
	cfg        engine.VisualizationConfig
	blocks     predicate.Blocks
	preview    Preview
	suggestion *synth.WidgetSuggestion
}

// Option configures a Session.
type Option func(*Session)

// WithID fixes the session ID. Default is a random UUID.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithSource sets where Refresh fetches rows from.
func WithSource(src source.DataSource) Option {
	return func(s *Session) { s.src = src }
}

// WithSynthesizer sets the synthesizer used by Suggest. Without one,
// Suggest uses a model-less synthesizer, which always falls back.
func WithSynthesizer(sy *synth.Synthesizer) Option {
	return func(s *Session) { s.synth = sy }
}

// WithDraftStore injects draft persistence.
func WithDraftStore(store DraftStore) Option {
	return func(s *Session) { s.store = store }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEngineOptions passes options to every aggregation.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Session) { s.engineOpts = append(s.engineOpts, opts...) }
}

// WithFetchLimit overrides DefaultFetchLimit.
func WithFetchLimit(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.fetchLimit = n
		}
	}
}

// New creates an empty session: a bar chart with no fields and no blocks.
func New(opts ...Option) *Session {
	s := &Session{
		id:         uuid.NewString(),
		logger:     zap.NewNop(),
		fetchLimit: DefaultFetchLimit,
		cfg:        engine.VisualizationConfig{Type: engine.KindBar, Aggregation: engine.AggSum},
		blocks:     predicate.Blocks{},
		preview:    Preview{Status: PreviewIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.synth == nil {
		s.synth = synth.New(nil, synth.WithSource(s.src), synth.WithLogger(s.logger))
	}
	s.logger = s.logger.With(zap.String("session_id", s.id))
	return s
}

// ============================================================================
// READERS
// ============================================================================

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Version is the token of the last mutation.
func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Config returns the current config.
func (s *Session) Config() engine.VisualizationConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Blocks returns a copy of the block list.
func (s *Session) Blocks() predicate.Blocks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks.Clone()
}

// Conditions compiles the current blocks.
func (s *Session) Conditions() []predicate.Condition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return predicate.Compile(s.blocks)
}

// Preview returns the last applied preview.
func (s *Session) Preview() Preview {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// Suggestion returns the last applied suggestion, or nil.
func (s *Session) Suggestion() *synth.WidgetSuggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suggestion
}

// Snapshot is a point-in-time copy of the session for callers that render
// it whole.
type Snapshot struct {
	ID         string                     `json:"id"`
	Version    uint64                     `json:"version"`
	Config     engine.VisualizationConfig `json:"config"`
	Blocks     predicate.Blocks           `json:"blocks"`
	Conditions []predicate.Condition      `json:"conditions"`
	Preview    Preview                    `json:"preview"`
	Suggestion *synth.WidgetSuggestion    `json:"suggestion,omitempty"`
}

// Snapshot copies the whole visible state under one lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:         s.id,
		Version:    s.version,
		Config:     s.cfg,
		Blocks:     s.blocks.Clone(),
		Conditions: predicate.Compile(s.blocks),
		Preview:    s.preview,
		Suggestion: s.suggestion,
	}
}

// ============================================================================
// SETTERS
// ============================================================================

// mutateLocked records a mutation. The preview no longer describes the
// state, so it goes back to idle. Caller holds s.mu.
func (s *Session) mutateLocked() uint64 {
	s.counter++
	s.version = s.counter
	s.preview = Preview{Status: PreviewIdle, Token: s.version}
	return s.version
}

// SetConfig replaces the config with its normalized form.
func (s *Session) SetConfig(cfg engine.VisualizationConfig) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = shape.Normalize(cfg)
	return s.mutateLocked()
}

// SetBlocks replaces the block list.
func (s *Session) SetBlocks(blocks predicate.Blocks) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = blocks.Clone()
	return s.mutateLocked()
}

// UpsertBlock replaces the block with the same ID or appends it.
func (s *Session) UpsertBlock(b predicate.LogicBlock) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := predicate.Blocks{b}.Clone()[0]
	if i := s.blocks.Index(b.BlockID()); i >= 0 {
		s.blocks[i] = cp
	} else {
		s.blocks = append(s.blocks, cp)
	}
	return s.mutateLocked()
}

// SetBlockEnabled toggles a block.
func (s *Session) SetBlockEnabled(id string, enabled bool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.blocks.Index(id)
	if i < 0 {
		return 0, fmt.Errorf("block %q: %w", id, ErrNotFound)
	}
	switch b := s.blocks[i].(type) {
	case *predicate.FilterBlock:
		cp := *b
		cp.Enabled = enabled
		s.blocks[i] = &cp
	case *predicate.AIBlock:
		cp := *b
		cp.Enabled = enabled
		s.blocks[i] = &cp
	}
	return s.mutateLocked(), nil
}

// RemoveBlock deletes a block.
func (s *Session) RemoveBlock(id string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.blocks.Index(id)
	if i < 0 {
		return 0, fmt.Errorf("block %q: %w", id, ErrNotFound)
	}
	s.blocks = append(s.blocks[:i:i], s.blocks[i+1:]...)
	return s.mutateLocked(), nil
}

// AcceptSuggestion adopts the current suggestion: its config replaces the
// session config and its filters, if any, become a new filter block. A
// suggestion can be accepted once.
func (s *Session) AcceptSuggestion(id string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sug := s.suggestion
	if sug == nil || (id != "" && sug.ID != id) {
		return 0, fmt.Errorf("suggestion %q: %w", id, ErrNotFound)
	}

	s.cfg = shape.Normalize(sug.Config)
	if len(sug.Filters) > 0 {
		conds := append([]predicate.Condition(nil), sug.Filters...)
		s.blocks = append(s.blocks, predicate.NewFilterBlock("Suggested filters", conds...))
	}
	s.suggestion = nil
	tok := s.mutateLocked()
	s.logger.Info("suggestion accepted",
		zap.String("suggestion_id", sug.ID),
		zap.String("source", string(sug.Source)),
		zap.Uint64("version", tok))
	return tok, nil
}

// ============================================================================
// ASYNC RUNS
// ============================================================================

// ticket is what a run carries from submission to application.
type ticket struct {
	token   uint64
	version uint64
}

// Refresh validates the config, fetches rows matching the compiled blocks
// and aggregates them. The outcome is applied only if still current;
// otherwise the computed preview is returned with ErrStale.
//
// A *shape.ValidationError or *source.QueryError is returned alongside the
// applied invalid or error preview.
func (s *Session) Refresh(ctx context.Context) (Preview, error) {
	s.mu.Lock()
	s.counter++
	t := ticket{token: s.counter, version: s.version}
	s.refreshTok = t.token
	cfg := s.cfg
	conds := predicate.Compile(s.blocks)
	s.mu.Unlock()

	p, runErr := s.compute(ctx, t.token, cfg, conds)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshTok != t.token || s.version != t.version {
		s.logger.Debug("discarding stale preview", zap.Uint64("token", t.token))
		return p, ErrStale
	}
	s.preview = p
	return p, runErr
}

func (s *Session) compute(ctx context.Context, token uint64, cfg engine.VisualizationConfig, conds []predicate.Condition) (Preview, error) {
	p := Preview{Token: token, Config: cfg, UpdatedAt: time.Now()}

	if err := shape.Check(cfg); err != nil {
		var verr *shape.ValidationError
		errors.As(err, &verr)
		p.Status = PreviewInvalid
		p.Missing = verr.Missing
		p.Error = err.Error()
		return p, err
	}
	if s.src == nil {
		p.Status = PreviewError
		p.Error = ErrNoSource.Error()
		return p, ErrNoSource
	}

	rows, err := s.src.Fetch(ctx, conds, s.fetchLimit)
	if err != nil {
		var qerr *source.QueryError
		if !errors.As(err, &qerr) {
			err = &source.QueryError{Op: "fetch", Err: err}
		}
		p.Status = PreviewError
		p.Error = err.Error()
		s.logger.Warn("preview fetch failed", zap.Uint64("token", token), zap.Error(err))
		return p, err
	}

	res := engine.Aggregate(engine.NewSliceView(rows), cfg, s.engineOpts...)
	p.Result = res
	p.Status = PreviewReady
	if res.IsEmpty() {
		p.Status = PreviewEmpty
	}
	s.logger.Debug("preview computed",
		zap.Uint64("token", token),
		zap.Int("rows", res.RowCount),
		zap.String("status", string(p.Status)))
	return p, nil
}

// Suggest runs the synthesizer under the session's compiled blocks. The
// run is always returned; its suggestion becomes visible only if current,
// otherwise ErrStale is returned with it.
func (s *Session) Suggest(ctx context.Context, prompt string) (*synth.Run, error) {
	s.mu.Lock()
	s.counter++
	t := ticket{token: s.counter, version: s.version}
	s.suggestTok = t.token
	conds := predicate.Compile(s.blocks)
	s.mu.Unlock()

	run := s.synth.Run(ctx, synth.Request{Prompt: prompt, Conditions: conds})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suggestTok != t.token || s.version != t.version {
		s.logger.Debug("discarding stale suggestion", zap.Uint64("token", t.token), zap.String("run_id", run.ID))
		return run, ErrStale
	}
	s.suggestion = run.Suggestion
	return run, nil
}

// ============================================================================
// DRAFTS
// ============================================================================

// SaveDraft persists blocks and config. A session without a store is a
// no-op.
func (s *Session) SaveDraft(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.mu.Lock()
	d := &Draft{
		SessionID: s.id,
		Config:    s.cfg,
		Blocks:    s.blocks.Clone(),
		SavedAt:   time.Now().UTC(),
	}
	s.mu.Unlock()
	if err := s.store.Save(ctx, d); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// LoadDraft restores the stored draft, if any. Restoring counts as a
// mutation. Returns false when no draft exists.
func (s *Session) LoadDraft(ctx context.Context) (bool, error) {
	if s.store == nil {
		return false, nil
	}
	d, err := s.store.Load(ctx, s.id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load draft: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = shape.Normalize(d.Config)
	s.blocks = d.Blocks.Clone()
	if s.blocks == nil {
		s.blocks = predicate.Blocks{}
	}
	s.mutateLocked()
	return true, nil
}

// ClearDraft deletes the stored draft.
func (s *Session) ClearDraft(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Clear(ctx, s.id); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}
