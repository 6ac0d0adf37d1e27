// Command widgetkit builds dashboard widgets from a tabular source, either
// as an HTTP service or one command at a time.
package main

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spektr-org/widgetkit/config"
	"github.com/spektr-org/widgetkit/logging"
)

// ============================================================================
// WIDGETKIT CLI
// ============================================================================

const version = "0.3.0"

var (
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "widgetkit",
	Short: "Widget editing core: aggregate, preview and suggest dashboard widgets",
	Long: `widgetkit turns a visualization config plus logic blocks into
render-ready chart data, and turns plain-language requests into widget
suggestions through a tool-using language model (or a keyword fallback).

Environment:
  GEMINI_API_KEY / OPENAI_API_KEY   model provider key
  WIDGETKIT_*                       overrides for config file keys`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Development)
		if err != nil {
			return err
		}
		gin.SetMode(cfg.Server.Mode)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "widgetkit.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd, previewCmd, suggestCmd, discoverCmd, importCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
