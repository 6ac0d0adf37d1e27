package main

import (
	"context"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"

	"github.com/spektr-org/widgetkit/config"
	"github.com/spektr-org/widgetkit/glossary"
	"github.com/spektr-org/widgetkit/session"
	"github.com/spektr-org/widgetkit/source"
	"github.com/spektr-org/widgetkit/synth"
)

// ============================================================================
// WIRING — config sections → components
// ============================================================================

// closer releases whatever a builder opened.
type closer func()

func noop() {}

// openSource builds the configured source. csvOverride, when set, wins over
// the config file and loads the file into memory.
func openSource(ctx context.Context, sc config.SourceConfig, csvOverride string, log *zap.Logger) (source.DataSource, closer, error) {
	if csvOverride != "" {
		sc = config.SourceConfig{Driver: "csv", Path: csvOverride}
	}

	switch sc.Driver {
	case "":
		return nil, noop, nil
	case "csv":
		rows, _, err := source.LoadCSVFile(sc.Path)
		if err != nil {
			return nil, noop, err
		}
		log.Info("loaded csv source", zap.String("path", sc.Path), zap.Int("rows", len(rows)))
		return source.NewMemorySource(rows), noop, nil
	case "sqlite", "duckdb":
		db, err := source.Open(ctx, sc.Driver, sc.DSN)
		if err != nil {
			return nil, noop, err
		}
		log.Info("opened sql source", zap.String("driver", sc.Driver), zap.String("table", sc.Table))
		src := source.NewSQLSource(db, sc.Table,
			source.WithColumnMapping(sc.Columns),
			source.WithLogger(log.Named("source")))
		return src, func() { db.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown source driver %q", sc.Driver)
	}
}

// openModel returns nil when no provider is configured.
func openModel(ctx context.Context, mc config.ModelConfig) (synth.Model, error) {
	switch mc.Provider {
	case "", "none":
		return nil, nil
	case "gemini":
		m, err := synth.NewGeminiModel(ctx, mc.APIKey, mc.Name)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "openai":
		m, err := synth.NewOpenAIModel(mc.APIKey, mc.Name, mc.BaseURL)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", mc.Provider)
	}
}

type synthDeps struct {
	src      source.DataSource
	glossary *glossary.Store
	registry prometheus.Registerer
}

func buildSynthesizer(ctx context.Context, c *config.Config, deps synthDeps, log *zap.Logger) (*synth.Synthesizer, error) {
	model, err := openModel(ctx, c.Model)
	if err != nil {
		return nil, err
	}
	opts := []synth.Option{
		synth.WithSource(deps.src),
		synth.WithLogger(log.Named("synth")),
		synth.WithMaxTurns(c.Model.MaxTurns),
		synth.WithSampleSize(c.Model.SampleSize),
		synth.WithParallelTools(c.Model.ParallelTools),
		synth.WithEngineOptions(c.EngineOptions()...),
	}
	if deps.glossary != nil {
		opts = append(opts, synth.WithGlossary(deps.glossary))
	}
	if deps.registry != nil {
		opts = append(opts, synth.WithMetrics(synth.NewMetrics(deps.registry)))
	}
	if c.Model.RatePerSecond > 0 {
		burst := c.Model.Burst
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, synth.WithRateLimiter(rate.NewLimiter(rate.Limit(c.Model.RatePerSecond), burst)))
	}
	if model == nil {
		log.Info("no model provider configured; suggestions use the keyword fallback")
	} else {
		log.Info("model provider ready", zap.String("model", model.Name()))
	}
	return synth.New(model, opts...), nil
}

func openGlossary(gc config.GlossaryConfig, log *zap.Logger) (*glossary.Store, error) {
	if gc.Path == "" {
		return nil, nil
	}
	store, err := glossary.NewStore(gc.Path, log.Named("glossary"))
	if err != nil {
		return nil, err
	}
	log.Info("glossary loaded", zap.String("path", gc.Path), zap.Int("terms", store.Current().Len()))
	return store, nil
}

func openDrafts(c *config.Config, log *zap.Logger) (session.DraftStore, closer, error) {
	switch c.Drafts.Backend {
	case "badger":
		store, err := session.OpenBadgerStore(session.BadgerConfig{
			Path:       c.Drafts.Path,
			SyncWrites: c.Drafts.SyncWrites,
			GCInterval: c.GCInterval(),
		}, log.Named("drafts"))
		if err != nil {
			return nil, noop, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Warn("draft store close failed", zap.Error(err))
			}
		}, nil
	default:
		return session.NewMemoryStore(), noop, nil
	}
}
