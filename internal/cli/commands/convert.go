package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/helios-labs/helios/internal/assemble"
	"github.com/helios-labs/helios/internal/config"
	"github.com/helios-labs/helios/internal/converter"
	"github.com/helios-labs/helios/internal/pipeline"
	"github.com/helios-labs/helios/internal/rules"
	"github.com/helios-labs/helios/internal/schema"
)

// ConvertOptions holds options for the convert command.
type ConvertOptions struct {
	NoLLM       bool   // Skip the external converter, rule rewrites only
	Output      string // Explicit output path (single input only)
	Watch       bool   // Re-convert when inputs change
	Model       string // Converter model override
	BaseURL     string // Converter endpoint override
	Workers     int    // Concurrent chunk conversions
	MaxRetries  int    // Converter retry budget
	SchemaMode  string // Schema resolver mode
	SchemaCache string // Schema cache file
	SparkSQLBin string // spark-sql binary for DESCRIBE
}

// NewConvertCommand creates the convert command.
func NewConvertCommand() *cobra.Command {
	opts := &ConvertOptions{}
	cmd := &cobra.Command{
		Use:   "convert <file.sql> [file.sql...]",
		Short: "Convert Oracle SQL files to Spark SQL",
		Long: `Convert one or more Oracle SQL scripts to Spark SQL.

Each input produces one output file next to it, named with the configured
suffix. Every input statement appears in the output exactly once, in the
original order: either as converted SQL or as a failure marker comment.`,
		Example: `  # Convert with the rule table only (no external converter)
  helios convert --no-llm etl_daily.sql

  # Convert for Delta Lake tables via the chat converter
  helios convert -p delta reports/*.sql

  # Re-convert whenever the input changes
  helios convert --no-llm --watch etl_daily.sql`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoLLM, "no-llm", false, "Skip the external converter; apply rule rewrites only")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Output file path (single input only)")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Watch inputs and re-convert on change")
	cmd.Flags().StringVar(&opts.Model, "model", "", "Converter model")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "Converter API base URL")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "Concurrent chunk conversions")
	cmd.Flags().IntVar(&opts.MaxRetries, "max-retries", -1, "Converter retries per chunk")
	cmd.Flags().StringVar(&opts.SchemaMode, "schema-mode", "", "Schema resolver mode (auto|cache|spark-sql)")
	cmd.Flags().StringVar(&opts.SchemaCache, "schema-cache", "", "Schema cache file")
	cmd.Flags().StringVar(&opts.SparkSQLBin, "spark-sql-bin", "", "spark-sql binary used for DESCRIBE")

	return cmd
}

func runConvert(cmd *cobra.Command, args []string, opts *ConvertOptions) error {
	cfg := ConfigFrom(cmd)
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}
	logger := LoggerFrom(cmd)
	applyOverrides(cfg, opts)

	if opts.Output != "" && len(args) > 1 {
		return fmt.Errorf("--output requires exactly one input file, got %d", len(args))
	}

	resolver := schema.New(schema.Config{
		Mode:        schema.Mode(cfg.Schema.Mode),
		CachePath:   cfg.Schema.CachePath,
		SparkSQLBin: cfg.Schema.SparkSQLBin,
		Logger:      logger,
	})
	engine := rules.New(rules.Config{
		Provider:     cfg.Provider,
		DateFormats:  cfg.SupportedDateFormats,
		Schema:       resolver,
		TableVersion: cfg.RuleTableVersion,
	})

	conv, err := buildConverter(cfg, opts)
	if err != nil {
		return err
	}

	p := pipeline.New(pipeline.Options{
		Config:    cfg,
		Engine:    engine,
		Converter: conv,
		Logger:    logger,
	})

	run := func(ctx context.Context) error {
		return convertFiles(ctx, cmd, p, cfg, opts, args)
	}

	if err := run(cmd.Context()); err != nil {
		return err
	}
	if opts.Watch {
		return watchAndConvert(cmd, args, run)
	}
	return nil
}

// applyOverrides copies explicitly set command flags onto the loaded
// config. Top-level settings go through the config loader; these are the
// converter and schema settings local to this command.
func applyOverrides(cfg *config.Config, opts *ConvertOptions) {
	if opts.Model != "" {
		cfg.Converter.Model = opts.Model
	}
	if opts.BaseURL != "" {
		cfg.Converter.BaseURL = opts.BaseURL
	}
	if opts.Workers > 0 {
		cfg.Converter.Workers = opts.Workers
	}
	if opts.MaxRetries >= 0 {
		cfg.Converter.MaxRetries = opts.MaxRetries
	}
	if opts.SchemaMode != "" {
		cfg.Schema.Mode = opts.SchemaMode
	}
	if opts.SchemaCache != "" {
		cfg.Schema.CachePath = opts.SchemaCache
	}
	if opts.SparkSQLBin != "" {
		cfg.Schema.SparkSQLBin = opts.SparkSQLBin
	}
}

func buildConverter(cfg *config.Config, opts *ConvertOptions) (converter.Converter, error) {
	if opts.NoLLM || !cfg.Converter.Enabled {
		return converter.NewPassthrough(), nil
	}
	conv, err := converter.NewOpenAI(converter.OpenAIOptions{
		BaseURL:   cfg.Converter.BaseURL,
		Model:     cfg.Converter.Model,
		APIKeyEnv: cfg.Converter.APIKeyEnv,
		Provider:  cfg.Provider,
		Timeout:   cfg.Converter.Timeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create converter: %w", err)
	}
	return conv, nil
}

func convertFiles(ctx context.Context, cmd *cobra.Command, p *pipeline.Pipeline, cfg *config.Config, opts *ConvertOptions, args []string) error {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"File", "Statements", "Chunks", "Converted", "Failed", "Output"})

	for _, input := range args {
		content, err := os.ReadFile(input)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", input, err)
		}

		res, err := p.Run(ctx, input, content)
		if err != nil {
			return fmt.Errorf("failed to convert %s: %w", input, err)
		}

		out := opts.Output
		if out == "" {
			out = assemble.OutputPath(input, cfg.OutputSuffix)
		}
		if err := assemble.WriteFile(out, input, res.Units); err != nil {
			return err
		}

		t.AppendRow(table.Row{
			filepath.Base(input),
			res.Stats.Statements,
			res.Stats.Chunks,
			res.Stats.Converted,
			res.Stats.Failed,
			filepath.Base(out),
		})
	}

	t.Render()
	return nil
}

// watchAndConvert re-runs the conversion whenever one of the input files
// is written. Events are debounced so editors that write in bursts only
// trigger one run.
func watchAndConvert(cmd *cobra.Command, args []string, run func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	watched := make(map[string]bool, len(args))
	for _, input := range args {
		abs, err := filepath.Abs(input)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", input, err)
		}
		watched[abs] = true
		// Watch the directory, not the file: editors replace files on
		// save, which drops a file-level watch.
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
		}
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Watching for changes (ctrl-c to stop)")

	ctx := cmd.Context()
	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !watched[abs] {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, func() {
				fmt.Fprintf(cmd.ErrOrStderr(), "Change detected: %s\n", filepath.Base(event.Name))
				if err := run(ctx); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Conversion error: %v\n", err)
				}
			})
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Watch error: %v\n", werr)
		}
	}
}
