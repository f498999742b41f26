// Package cli provides the command-line interface for Helios.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/helios-labs/helios/internal/cli/commands"
	"github.com/helios-labs/helios/internal/config"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

var cfgFile string

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "helios",
		Short: "Helios - Oracle to Spark SQL conversion",
		Long: `Helios converts Oracle SQL scripts into Spark SQL.

It extracts statement blocks from a script, groups them into chunks that
never split a CTE dependency, converts each chunk, and rewrites the result
with a fixed rule table. Anything it cannot convert safely is refused with
an explicit failure marker instead of a guess.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			logger := slog.New(slog.DiscardHandler)
			if cfg.Verbose {
				logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
					Level: slog.LevelDebug,
				}))
			}

			ctx := commands.WithConfig(cmd.Context(), cfg)
			ctx = commands.WithLogger(ctx, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
Oracle to Spark SQL conversion
`)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./helios.yaml)")
	rootCmd.PersistentFlags().StringP("provider", "p", "", "Target table format (hive|delta|iceberg)")
	rootCmd.PersistentFlags().Int("token-budget", 0, "Estimated token budget per chunk")
	rootCmd.PersistentFlags().Float64("safety-margin-pct", 0, "Headroom fraction reserved below the token budget")
	rootCmd.PersistentFlags().String("output-suffix", "", "Suffix appended to the input file stem")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	_ = rootCmd.RegisterFlagCompletionFunc("provider", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"hive", "delta", "iceberg"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewConvertCommand())
	rootCmd.AddCommand(commands.NewRulesCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(Version))

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
