// Package main implements the docket CLI: it extracts dated legal events from
// case documents into a chronology, stores each run, and serves the same
// operations over MCP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is normal; the environment is used as is.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand. They form the CLI layer of the
// configuration and only override lower layers when set explicitly.
type globalFlags struct {
	configPath  string
	dbPath      string
	rulesPath   string
	logLevel    string
	llm         string
	useLLM      bool
	useOCR      bool
	threshold   float64
	workers     int
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "docket",
		Short: "Build a dated chronology of legal events from case documents",
		Long: `docket reads PDF, DOCX and TXT case documents and extracts the legal events
they record (filings, hearings, orders, leases...) with their dates into a
chronology: DATE, EVENT, DESCRIPTION, PAGE/SECTION, SOURCE.

Rule-based extraction runs first. Low-confidence candidates can optionally be
normalized by an LLM (--use-llm). Every run is saved to a local SQLite database.

Examples:
  # Extract a folder of judgments to CSV
  docket extract --in ./cases --out chronology.csv

  # Use Gemini for low-confidence chunks
  docket extract --in ./cases --out chronology.json --use-llm --llm google/gemini-2.5-flash

  # Show the records of the last run
  docket events --type Hearing`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "config file (default ~/.docket/config.yaml)")
	pf.StringVar(&g.dbPath, "db", "", "database path (default ~/.docket/docket.db)")
	pf.StringVar(&g.rulesPath, "rules", "", "rule table YAML (default: built-in table)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&g.llm, "llm", "", "LLM as provider/model, e.g. google/gemini-2.5-flash or openrouter/openai/gpt-4o-mini")
	pf.BoolVar(&g.useLLM, "use-llm", false, "normalize low-confidence candidates with the LLM")
	pf.BoolVar(&g.useOCR, "ocr", false, "OCR scanned PDF pages (needs pdftoppm and tesseract)")
	pf.Float64Var(&g.threshold, "threshold", 0, "confidence threshold in (0, 1] (default 0.6)")
	pf.IntVar(&g.workers, "workers", 0, "documents processed in parallel (default 4)")
	pf.StringVar(&g.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")

	root.AddCommand(
		newExtractCmd(g),
		newEventsCmd(g),
		newRunsCmd(g),
		newRulesCmd(g),
		newConfigCmd(g),
		newMCPCmd(g),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the docket version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "docket %s\n", version)
		},
	}
}
