package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/docket/internal/extract"
	"github.com/hurttlocker/docket/internal/output"
	"github.com/hurttlocker/docket/internal/store"
)

func newEventsCmd(g *globalFlags) *cobra.Command {
	var (
		f      store.EventFilter
		format string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the records of a saved run",
		Long: `Print the records of a saved extraction run in output order (source, date,
page). Without --run the latest run is shown.

Examples:
  docket events
  docket events --type Hearing --from 1921-01-01 --to 1921-12-31
  docket events --run 6f1c... --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			settings, err := loadSettings(cmd, g)
			if err != nil {
				return err
			}
			st, err := store.NewStore(store.StoreConfig{DBPath: settings.DBPath})
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer st.Close()

			events, err := st.ListEvents(cmd.Context(), f)
			if err != nil {
				return err
			}
			records := make([]extract.Candidate, len(events))
			for i, e := range events {
				records[i] = e.Candidate()
			}
			return output.Write(cmd.OutOrStdout(), outFormat, records)
		},
	}

	cmd.Flags().StringVar(&f.RunID, "run", "", "run ID (default: latest run)")
	cmd.Flags().StringVar(&f.Source, "source", "", "only sources containing this text")
	cmd.Flags().StringVar(&f.EventType, "type", "", "only this event type")
	cmd.Flags().StringVar(&f.From, "from", "", "earliest date, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.To, "to", "", "latest date, YYYY-MM-DD")
	cmd.Flags().IntVar(&f.Limit, "limit", store.DefaultListLimit, "maximum records")
	cmd.Flags().StringVar(&format, "format", "csv", "output format: csv or json")
	return cmd
}

func newRunsCmd(g *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List saved extraction runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd, g)
			if err != nil {
				return err
			}
			st, err := store.NewStore(store.StoreConfig{DBPath: settings.DBPath})
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tDOCS\tFAILED\tRECORDS\tLLM\tINPUTS")
			for _, r := range runs {
				model := "-"
				if r.UsedLLM {
					model = r.Model
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
					r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Documents,
					r.FailedDocuments, r.RecordCount, model, strings.Join(r.Inputs, ","))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs")
	return cmd
}
