package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spektr-org/widgetkit/server"
	"github.com/spektr-org/widgetkit/session"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	src, closeSrc, err := openSource(ctx, cfg.Source, "", logger)
	if err != nil {
		return err
	}
	defer closeSrc()
	if src == nil {
		logger.Warn("no source configured; previews need posted rows")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gloss, err := openGlossary(cfg.Glossary, logger)
	if err != nil {
		return err
	}
	sy, err := buildSynthesizer(ctx, cfg, synthDeps{src: src, glossary: gloss, registry: registry}, logger)
	if err != nil {
		return err
	}

	drafts, closeDrafts, err := openDrafts(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDrafts()

	manager := session.NewManager(drafts, logger.Named("session"),
		session.WithSource(src),
		session.WithSynthesizer(sy),
		session.WithEngineOptions(cfg.EngineOptions()...),
		session.WithFetchLimit(cfg.Source.Limit),
	)
	srv := server.New(
		server.WithSessions(manager),
		server.WithSynthesizer(sy),
		server.WithSource(src),
		server.WithEngineOptions(cfg.EngineOptions()...),
		server.WithLogger(logger.Named("http")),
		server.WithRegistry(registry),
		server.WithRequestTimeout(cfg.RequestTimeout()),
		server.WithFetchLimit(cfg.Source.Limit),
	)

	g, gctx := errgroup.WithContext(ctx)
	if gloss != nil && cfg.Glossary.Watch {
		g.Go(func() error { return gloss.Watch(gctx) })
	}
	g.Go(func() error {
		return srv.Run(gctx, cfg.Server.Addr, cfg.ShutdownTimeout())
	})

	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		logger.Error("server stopped", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

// signalContext is used by one-shot commands that still honour Ctrl-C.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
