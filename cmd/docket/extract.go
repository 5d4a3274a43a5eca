package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/docket/internal/ingest"
	"github.com/hurttlocker/docket/internal/output"
	"github.com/hurttlocker/docket/internal/service"
)

func newExtractCmd(g *globalFlags) *cobra.Command {
	var (
		inputs []string
		out    string
		format string
		noSave bool
	)

	cmd := &cobra.Command{
		Use:   "extract [--in PATH]... [--out FILE]",
		Short: "Extract a chronology of legal events from documents",
		Long: `Extract reads every PDF, DOCX and TXT document under the given inputs and
writes one row per event: DATE, EVENT, DESCRIPTION, PAGE/SECTION, SOURCE.

Inputs may be files, directories (walked recursively) or s3://bucket/prefix.
The output format follows the --out extension (.json for JSON, CSV otherwise);
without --out, CSV is written to stdout.

Documents that cannot be read are reported as warnings and skipped.

Examples:
  docket extract --in judgment.pdf
  docket extract --in ./cases --in s3://archive/1921/ --out chronology.json
  docket extract ./cases --threshold 0.7 --use-llm --workers 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs = append(inputs, args...)
			if len(inputs) == 0 {
				return fmt.Errorf("no inputs: pass --in PATH or a path argument")
			}

			settings, err := loadSettings(cmd, g)
			if err != nil {
				return err
			}

			withS3 := false
			for _, in := range inputs {
				if ingest.IsS3URI(in) {
					withS3 = true
				}
			}
			rt, err := buildRuntime(cmd.Context(), settings, buildOptions{withStore: !noSave, withS3: withS3})
			if err != nil {
				return err
			}
			defer rt.close()

			report, err := rt.service.Extract(cmd.Context(), service.ExtractRequest{
				Inputs:  inputs,
				Persist: !noSave,
			})
			if err != nil {
				return err
			}

			if err := writeRecords(cmd, out, format, report); err != nil {
				return err
			}

			stderr := cmd.ErrOrStderr()
			for _, w := range report.WarningStrings() {
				fmt.Fprintf(stderr, "warning: %s\n", w)
			}
			fmt.Fprintf(stderr, "%d records from %d documents", len(report.Records), len(report.Documents))
			if n := len(report.Warnings); n > 0 {
				fmt.Fprintf(stderr, " (%d warnings)", n)
			}
			if report.Persisted {
				fmt.Fprintf(stderr, ", run %s", report.RunID)
			}
			fmt.Fprintln(stderr)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&inputs, "in", "i", nil, "input file, directory or s3:// prefix (repeatable)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file; .json selects JSON (default: CSV to stdout)")
	cmd.Flags().StringVar(&format, "format", "", "force output format: csv or json")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not save the run to the database")
	return cmd
}

// writeRecords writes to --out, or to stdout when it is empty or "-".
func writeRecords(cmd *cobra.Command, out, format string, report *service.Report) error {
	toStdout := out == "" || out == "-"

	f := output.FormatForPath(out)
	if strings.TrimSpace(format) != "" {
		parsed, err := output.ParseFormat(format)
		if err != nil {
			return err
		}
		f = parsed
	}

	if toStdout {
		return output.Write(cmd.OutOrStdout(), f, report.Records)
	}
	return output.WriteFileFormat(out, f, report.Records)
}
