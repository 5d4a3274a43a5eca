package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/docket/internal/extract"
)

func newRulesCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect rule tables",
	}

	var text string
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate the rule table and print its summary",
		Long: `Check compiles the active rule table (--rules, or the built-in table) and
prints the size of each part. A table with no triggers, no date patterns or an
invalid regular expression is an error.

With --text, the rule engine is run over the text and each candidate is
printed with its confidence and gate decision.

Examples:
  docket rules check
  docket rules check --rules ./bengal-rules.yaml
  docket rules check --text "On 11 March 1921 the plaintiff filed a lease."`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd, g)
			if err != nil {
				return err
			}
			rules, err := extract.LoadRules(settings.RulesPath)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if text == "" {
				return enc.Encode(rules.Summary())
			}

			gate := extract.NewGate(settings.ConfidenceThreshold)
			engine := extract.NewEngine(rules)
			chunks := extract.NewChunker(rules, settings.LineBreakIsBoundary).
				ChunkDocument("text", []extract.Page{{Number: 1, Text: text}})

			out := cmd.OutOrStdout()
			found := 0
			for _, ch := range chunks {
				for _, c := range engine.Extract(ch) {
					found++
					date := c.Date
					if date == "" {
						date = "-"
					}
					fmt.Fprintf(out, "%s\t%s\t%.2f\t%s\t%s\n",
						date, c.EventType, c.Confidence, gate.Route(c).Decision, c.Location)
				}
			}
			if found == 0 {
				fmt.Fprintln(out, "no candidates")
			}
			return nil
		},
	}
	check.Flags().StringVar(&text, "text", "", "run the rule engine over this text")

	cmd.AddCommand(check)
	return cmd
}
