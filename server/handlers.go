package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/predicate"
	"github.com/spektr-org/widgetkit/session"
	"github.com/spektr-org/widgetkit/shape"
	"github.com/spektr-org/widgetkit/source"
	"github.com/spektr-org/widgetkit/synth"
)

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// ErrorResponse is the body of every non-2xx reply except preview
// failures, which use PreviewResponse.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type compileRequest struct {
	Blocks predicate.Blocks `json:"blocks"`
}

type compileResponse struct {
	Conditions []predicate.Condition `json:"conditions"`
}

type previewRequest struct {
	Config engine.VisualizationConfig `json:"config"`
	Blocks predicate.Blocks           `json:"blocks"`
	// Rows switches to local mode: conditions are applied in memory
	// instead of being pushed to the server's source.
	Rows []engine.Row `json:"rows"`
}

// PreviewResponse reports one aggregation. Status is ready, empty, error
// or invalid.
type PreviewResponse struct {
	Status  session.PreviewStatus `json:"status"`
	Result  *engine.Result        `json:"result,omitempty"`
	Missing []string              `json:"missing,omitempty"`
	Error   string                `json:"error,omitempty"`
	Token   uint64                `json:"token,omitempty"`

	// Render-ready forms of Result, when the family has one.
	Chart *engine.ChartConfig `json:"chart,omitempty"`
	Table *engine.TableData   `json:"table,omitempty"`
}

// withRender attaches the chart or table built from the result.
func (p PreviewResponse) withRender(cfg engine.VisualizationConfig) PreviewResponse {
	if p.Result == nil || p.Result.IsEmpty() {
		return p
	}
	if p.Result.Type == engine.KindGroupedTable || p.Result.Family == engine.FamilyTable {
		p.Table = engine.BuildTable(cfg, p.Result)
		return p
	}
	p.Chart = engine.BuildChart(cfg, p.Result)
	return p
}

type suggestRequest struct {
	Prompt string           `json:"prompt" binding:"required"`
	Blocks predicate.Blocks `json:"blocks"`
}

// RunSummary describes how a suggestion was produced.
type RunSummary struct {
	ID            string      `json:"id"`
	State         synth.State `json:"state"`
	Turns         int         `json:"turns"`
	FailureReason string      `json:"failureReason,omitempty"`
	DurationMS    int64       `json:"durationMs"`
}

// SuggestResponse carries a suggestion and its run summary.
type SuggestResponse struct {
	Suggestion *synth.WidgetSuggestion `json:"suggestion"`
	Run        RunSummary              `json:"run"`
}

type createSessionRequest struct {
	ID string `json:"id"`
}

type blocksRequest struct {
	Blocks predicate.Blocks `json:"blocks"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type acceptRequest struct {
	SuggestionID string `json:"suggestionId"`
}

// configResponse is a session snapshot plus the config's validation.
type configResponse struct {
	session.Snapshot
	Validation shape.Validation `json:"validation"`
}

func summarize(run *synth.Run) RunSummary {
	return RunSummary{
		ID:            run.ID,
		State:         run.State,
		Turns:         run.Turns,
		FailureReason: run.FailureReason(),
		DurationMS:    run.Duration.Milliseconds(),
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
}

// ============================================================================
// STATELESS HANDLERS
// ============================================================================

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.sessions.Len()})
}

// handleValidate answers 200 for a runnable config and 422 otherwise.
func (s *Server) handleValidate(c *gin.Context) {
	var cfg engine.VisualizationConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, err)
		return
	}
	v := shape.Validate(cfg)
	if !v.Valid {
		c.JSON(http.StatusUnprocessableEntity, v)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleCompile(c *gin.Context) {
	var req compileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, compileResponse{Conditions: predicate.Compile(req.Blocks)})
}

// handlePreview aggregates posted rows, or rows fetched from the source.
func (s *Server) handlePreview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cfg := shape.Normalize(req.Config)
	if v := shape.Validate(cfg); !v.Valid {
		c.JSON(http.StatusUnprocessableEntity, PreviewResponse{
			Status:  session.PreviewInvalid,
			Missing: v.Missing,
			Error:   (&shape.ValidationError{Kind: cfg.Type, Missing: v.Missing, Invalid: v.Invalid}).Error(),
		})
		return
	}
	conds := predicate.Compile(req.Blocks)

	var res *engine.Result
	if req.Rows != nil {
		res = engine.Execute(req.Rows, cfg, conds, s.engineOpts...)
	} else {
		if s.src == nil {
			c.JSON(http.StatusBadGateway, PreviewResponse{Status: session.PreviewError, Error: session.ErrNoSource.Error()})
			return
		}
		rows, err := s.src.Fetch(c.Request.Context(), conds, s.fetchLimit)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusBadGateway, PreviewResponse{Status: session.PreviewError, Error: err.Error()})
			return
		}
		res = engine.Aggregate(engine.NewSliceView(rows), cfg, s.engineOpts...)
	}

	status := session.PreviewReady
	if res.IsEmpty() {
		status = session.PreviewEmpty
	}
	c.JSON(http.StatusOK, PreviewResponse{Status: status, Result: res}.withRender(cfg))
}

func (s *Server) handleSuggest(c *gin.Context) {
	var req suggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	run := s.synth.Run(c.Request.Context(), synth.Request{
		Prompt:     req.Prompt,
		Conditions: predicate.Compile(req.Blocks),
	})
	c.JSON(http.StatusOK, SuggestResponse{Suggestion: run.Suggestion, Run: summarize(run)})
}

// ============================================================================
// SESSION HANDLERS
// ============================================================================

// lookup resolves :id or writes 404.
func (s *Server) lookup(c *gin.Context) (*session.Session, bool) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
		return nil, false
	}
	return sess, true
}

// saveDraft persists after a mutation. Failures are logged, not returned:
// the in-memory state is already updated.
func (s *Server) saveDraft(c *gin.Context, sess *session.Session) {
	if err := sess.SaveDraft(c.Request.Context()); err != nil {
		_ = c.Error(err)
		s.logger.Warn("draft save failed", zap.String("session_id", sess.ID()), zap.Error(err))
	}
}

func (s *Server) respondConfig(c *gin.Context, sess *session.Session) {
	snap := sess.Snapshot()
	c.JSON(http.StatusOK, configResponse{Snapshot: snap, Validation: shape.Validate(snap.Config)})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	sess, err := s.sessions.Create(c.Request.Context(), req.ID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "DRAFT_LOAD_FAILED"})
		return
	}
	c.JSON(http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	err := s.sessions.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "DRAFT_CLEAR_FAILED"})
	default:
		c.Status(http.StatusNoContent)
	}
}

// handleSetConfig stores any config; completeness is reported, not
// enforced, so a half-built config can be saved.
func (s *Server) handleSetConfig(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	var cfg engine.VisualizationConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, err)
		return
	}
	sess.SetConfig(cfg)
	s.saveDraft(c, sess)
	s.respondConfig(c, sess)
}

func (s *Server) handleSetBlocks(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	var req blocksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Blocks == nil {
		req.Blocks = predicate.Blocks{}
	}
	sess.SetBlocks(req.Blocks)
	s.saveDraft(c, sess)
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) handleUpsertBlock(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	var req blocksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	for _, b := range req.Blocks {
		sess.UpsertBlock(b)
	}
	s.saveDraft(c, sess)
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSetBlockEnabled(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	var req enabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := sess.SetBlockEnabled(c.Param("blockId"), *req.Enabled); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
		return
	}
	s.saveDraft(c, sess)
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) handleRemoveBlock(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	if _, err := sess.RemoveBlock(c.Param("blockId")); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
		return
	}
	s.saveDraft(c, sess)
	c.JSON(http.StatusOK, sess.Snapshot())
}

// handleRefresh maps preview outcomes onto status codes: invalid 422,
// fetch error 502, superseded 409, ready and empty 200.
func (s *Server) handleRefresh(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	p, err := sess.Refresh(c.Request.Context())
	resp := PreviewResponse{Status: p.Status, Result: p.Result, Missing: p.Missing, Error: p.Error, Token: p.Token}

	var (
		verr *shape.ValidationError
		qerr *source.QueryError
	)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, resp.withRender(p.Config))
	case errors.Is(err, session.ErrStale):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "STALE"})
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, resp)
	case errors.As(err, &qerr), errors.Is(err, session.ErrNoSource):
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, resp)
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "INTERNAL"})
	}
}

func (s *Server) handleSessionSuggest(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	var req suggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	run, err := sess.Suggest(c.Request.Context(), req.Prompt)
	if errors.Is(err, session.ErrStale) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "STALE"})
		return
	}
	c.JSON(http.StatusOK, SuggestResponse{Suggestion: run.Suggestion, Run: summarize(run)})
}

func (s *Server) handleAccept(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	var req acceptRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if _, err := sess.AcceptSuggestion(req.SuggestionID); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
		return
	}
	s.saveDraft(c, sess)
	s.respondConfig(c, sess)
}
