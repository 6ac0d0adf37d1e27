package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/predicate"
	"github.com/spektr-org/widgetkit/schema"
	"github.com/spektr-org/widgetkit/session"
	"github.com/spektr-org/widgetkit/shape"
	"github.com/spektr-org/widgetkit/source"
	"github.com/spektr-org/widgetkit/synth"
)

// Shared one-shot flags.
var (
	filePath   string
	outPath    string
	format     string
	whereFlags []string
)

func addDataFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&filePath, "file", "f", "", "CSV file to use instead of the configured source")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write output to a file instead of stdout")
	cmd.Flags().StringArrayVarP(&whereFlags, "where", "w", nil, `Condition "field:operator[:value]", repeatable`)
}

// ============================================================================
// PREVIEW
// ============================================================================

var (
	widgetPath string
	widget     engine.VisualizationConfig
	aggFlag    string
	typeFlag   string
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Aggregate the source for one widget config",
	Example: `  widgetkit preview -f sales.csv --type bar --x region --y revenue
  widgetkit preview --widget widget.json -w "state:in:CA|NY" --format csv`,
	Args: cobra.NoArgs,
	RunE: runPreview,
}

func init() {
	addDataFlags(previewCmd)
	previewCmd.Flags().StringVar(&widgetPath, "widget", "", "JSON visualization config (flags below override it)")
	previewCmd.Flags().StringVar(&typeFlag, "type", "", "Chart kind")
	previewCmd.Flags().StringVar(&widget.XField, "x", "", "xField")
	previewCmd.Flags().StringVar(&widget.YField, "y", "", "yField")
	previewCmd.Flags().StringVar(&widget.GroupBy, "group-by", "", "Secondary grouping field")
	previewCmd.Flags().StringVar(&aggFlag, "agg", "", "Aggregation: sum, avg, count, min, max")
	previewCmd.Flags().StringVar(&format, "format", "json", "Output format: json, pretty, csv")
}

func runPreview(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	vc, err := widgetConfig()
	if err != nil {
		return err
	}
	conds, err := parseWhere(whereFlags)
	if err != nil {
		return err
	}

	src, closeSrc, err := openSource(ctx, cfg.Source, filePath, logger)
	if err != nil {
		return err
	}
	defer closeSrc()

	sess := session.New(
		session.WithSource(src),
		session.WithLogger(logger.Named("session")),
		session.WithEngineOptions(cfg.EngineOptions()...),
		session.WithFetchLimit(cfg.Source.Limit),
	)
	sess.SetConfig(vc)
	if len(conds) > 0 {
		sess.SetBlocks(predicate.Blocks{predicate.NewFilterBlock("cli", conds...)})
	}

	p, err := sess.Refresh(ctx)
	if err != nil {
		return err
	}
	logger.Debug("preview computed", zap.String("status", string(p.Status)), zap.Int("rows", p.Result.RowCount))

	return withOutput(func(w *os.File) error {
		if format == "csv" {
			return writeCSV(w, p.Result)
		}
		return writeJSON(w, p, format)
	})
}

// widgetConfig merges --widget with the individual field flags.
func widgetConfig() (engine.VisualizationConfig, error) {
	var vc engine.VisualizationConfig
	if widgetPath != "" {
		data, err := os.ReadFile(widgetPath)
		if err != nil {
			return vc, fmt.Errorf("read widget: %w", err)
		}
		if err := json.Unmarshal(data, &vc); err != nil {
			return vc, fmt.Errorf("parse widget: %w", err)
		}
	}
	if typeFlag != "" {
		vc.Type = engine.ChartKind(typeFlag)
	}
	if aggFlag != "" {
		vc.Aggregation = engine.Aggregation(aggFlag)
	}
	if widget.XField != "" {
		vc.XField = widget.XField
	}
	if widget.YField != "" {
		vc.YField = widget.YField
	}
	if widget.GroupBy != "" {
		vc.GroupBy = widget.GroupBy
	}
	if vc.Type == "" {
		return vc, fmt.Errorf("a chart kind is required (--type or --widget)")
	}
	return vc, nil
}

// parseWhere reads "field:operator[:value]". List operators split the value
// on "|"; numeric values become numbers.
func parseWhere(specs []string) ([]predicate.Condition, error) {
	conds := make([]predicate.Condition, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("bad condition %q: want field:operator[:value]", spec)
		}
		c := predicate.Condition{Field: strings.TrimSpace(parts[0]), Operator: predicate.Operator(strings.ToLower(parts[1]))}
		if !c.Operator.Valid() {
			return nil, fmt.Errorf("bad condition %q: unknown operator %q", spec, parts[1])
		}
		if len(parts) == 3 {
			switch c.Operator {
			case predicate.OpIn, predicate.OpContainsAny:
				items := strings.Split(parts[2], "|")
				list := make([]any, len(items))
				for i, item := range items {
					list[i] = scalar(item)
				}
				c.Value = list
			default:
				c.Value = scalar(parts[2])
			}
		}
		conds = append(conds, c)
	}
	return conds, nil
}

func scalar(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// ============================================================================
// SUGGEST
// ============================================================================

var showTranscript bool

var suggestCmd = &cobra.Command{
	Use:     "suggest <request>",
	Short:   "Turn a plain-language request into a widget suggestion",
	Example: `  widgetkit suggest -f shipments.csv "average cost by carrier for CA"`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runSuggest,
}

func init() {
	addDataFlags(suggestCmd)
	suggestCmd.Flags().BoolVar(&showTranscript, "transcript", false, "Print the whole run, transcript included")
}

func runSuggest(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	if cfg.ModelTimeout() > 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, cfg.ModelTimeout())
		defer cancel()
	}

	conds, err := parseWhere(whereFlags)
	if err != nil {
		return err
	}
	src, closeSrc, err := openSource(ctx, cfg.Source, filePath, logger)
	if err != nil {
		return err
	}
	defer closeSrc()

	gloss, err := openGlossary(cfg.Glossary, logger)
	if err != nil {
		return err
	}
	sy, err := buildSynthesizer(ctx, cfg, synthDeps{src: src, glossary: gloss}, logger)
	if err != nil {
		return err
	}

	run := sy.Run(ctx, synth.Request{Prompt: strings.Join(args, " "), Conditions: conds})
	if reason := run.FailureReason(); reason != "" {
		logger.Warn("used keyword fallback", zap.String("reason", reason), zap.Error(run.Err))
	}

	return withOutput(func(w *os.File) error {
		if showTranscript {
			return writeJSON(w, run, "pretty")
		}
		return writeJSON(w, run.Suggestion, "pretty")
	})
}

// ============================================================================
// DISCOVER
// ============================================================================

var (
	discoverSample int
	discoverName   string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Print the schema inferred from the source",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		src, closeSrc, err := openSource(ctx, cfg.Source, filePath, logger)
		if err != nil {
			return err
		}
		defer closeSrc()
		if src == nil {
			return session.ErrNoSource
		}

		opts := schema.DefaultDiscoverOptions()
		opts.Name = discoverName
		sch, err := schema.Describe(ctx, src, discoverSample, opts)
		if err != nil {
			return err
		}
		return withOutput(func(w *os.File) error { return writeJSON(w, sch, "pretty") })
	},
}

func init() {
	addDataFlags(discoverCmd)
	discoverCmd.Flags().IntVar(&discoverSample, "sample", 1000, "Rows to inspect")
	discoverCmd.Flags().StringVar(&discoverName, "name", "", "Dataset name")
}

// ============================================================================
// IMPORT
// ============================================================================

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Load a CSV file into the configured sqlite or duckdb table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		sc := cfg.Source
		if sc.Driver != "sqlite" && sc.Driver != "duckdb" {
			return fmt.Errorf("import needs a sqlite or duckdb source, got %q", sc.Driver)
		}
		rows, fields, err := source.LoadCSVFile(args[0])
		if err != nil {
			return err
		}
		db, err := source.Open(ctx, sc.Driver, sc.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := source.Import(ctx, db, sc.Table, fields, rows); err != nil {
			return err
		}
		logger.Info("imported rows", zap.String("table", sc.Table), zap.Int("rows", len(rows)), zap.Int("columns", len(fields)))
		return nil
	},
}

// ============================================================================
// VALIDATE
// ============================================================================

var validateCmd = &cobra.Command{
	Use:   "validate [widget.json]",
	Short: "Check the config file, and optionally a widget config",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "config ok")
		if len(args) == 0 {
			return nil
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var vc engine.VisualizationConfig
		if err := json.Unmarshal(data, &vc); err != nil {
			return fmt.Errorf("parse widget: %w", err)
		}
		v := shape.Validate(vc)
		if err := writeJSON(os.Stdout, v, "pretty"); err != nil {
			return err
		}
		if !v.Valid {
			return shape.Check(vc)
		}
		return nil
	},
}
