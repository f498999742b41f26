package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/helios-labs/helios/internal/rules"
)

// NewRulesCommand creates the rules command.
func NewRulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the rewrite rule table",
		Long: `List the rewrite rules in the order they are applied.

Rules either rewrite an Oracle construct to its Spark SQL equivalent or
refuse the whole statement with the listed failure code. Order is fixed;
a rule never sees text produced by a later rule.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := ConfigFrom(cmd)
			if cfg == nil {
				return fmt.Errorf("configuration not loaded")
			}
			engine := rules.New(rules.Config{
				Provider:     cfg.Provider,
				DateFormats:  cfg.SupportedDateFormats,
				TableVersion: cfg.RuleTableVersion,
			})

			fmt.Fprintf(cmd.OutOrStdout(), "Rule table %s (provider: %s)\n\n",
				engine.TableVersion(), cfg.Provider)

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"#", "Rule", "Construct", "Action", "Failure Code"})
			for i, r := range engine.Rules() {
				code := string(r.FailCode)
				if code == "" {
					code = "-"
				}
				t.AppendRow(table.Row{i + 1, r.Name, r.Construct, r.Action, code})
			}
			t.Render()
			return nil
		},
	}
}
