package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hurttlocker/docket/internal/config"
	"github.com/hurttlocker/docket/internal/extract"
	"github.com/hurttlocker/docket/internal/ingest"
	"github.com/hurttlocker/docket/internal/llm"
	"github.com/hurttlocker/docket/internal/logging"
	"github.com/hurttlocker/docket/internal/metrics"
	"github.com/hurttlocker/docket/internal/pipeline"
	"github.com/hurttlocker/docket/internal/service"
	"github.com/hurttlocker/docket/internal/store"
)

// resolveOptions turns explicitly set flags into the CLI configuration layer.
func resolveOptions(cmd *cobra.Command, g *globalFlags) config.ResolveOptions {
	changed := func(name string) bool { return cmd.Flags().Changed(name) }

	opts := config.ResolveOptions{ConfigPath: g.configPath}
	if changed("llm") {
		opts.CLILLM = g.llm
	}
	if changed("use-llm") {
		opts.CLIUseLLM = strconv.FormatBool(g.useLLM)
	}
	if changed("threshold") {
		opts.CLIThreshold = strconv.FormatFloat(g.threshold, 'f', -1, 64)
	}
	if changed("workers") {
		opts.CLIWorkers = strconv.Itoa(g.workers)
	}
	if changed("rules") {
		opts.CLIRulesPath = g.rulesPath
	}
	if changed("db") {
		opts.CLIDBPath = g.dbPath
	}
	if changed("ocr") {
		opts.CLIUseOCR = strconv.FormatBool(g.useOCR)
	}
	if changed("log-level") {
		opts.CLILogLevel = g.logLevel
	}
	return opts
}

// loadSettings resolves and validates configuration. Any error here is fatal
// before a document is read.
func loadSettings(cmd *cobra.Command, g *globalFlags) (config.Settings, error) {
	resolved, err := config.ResolveConfig(resolveOptions(cmd, g))
	if err != nil {
		return config.Settings{}, err
	}
	settings, err := resolved.Settings()
	if err != nil {
		return config.Settings{}, err
	}
	if cmd.Flags().Changed("metrics-addr") {
		settings.MetricsAddr = g.metricsAddr
	}
	if err := settings.Validate(); err != nil {
		return config.Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}

func newLogger(s config.Settings) (*logging.Logger, error) {
	return logging.NewLogger(logging.Config{Level: s.LogLevel, Format: s.LogFormat})
}

// buildOptions selects the optional parts of the runtime.
type buildOptions struct {
	withStore bool
	withS3    bool // build an S3 client even when no region is configured
}

// runtime holds everything a command needs and how to release it.
type runtime struct {
	settings config.Settings
	logger   *logging.Logger
	metrics  *metrics.Metrics
	rules    *extract.Rules
	store    store.Store
	service  *service.Service
	closers  []func()
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	_ = rt.logger.Sync()
}

// buildRuntime wires rules, ingestion, the optional normalizer, the store and
// metrics into a service.
func buildRuntime(ctx context.Context, s config.Settings, opts buildOptions) (*runtime, error) {
	logger, err := newLogger(s)
	if err != nil {
		return nil, err
	}
	rt := &runtime{settings: s, logger: logger, metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			rt.close()
		}
	}()

	rules, err := extract.LoadRules(s.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}
	rt.rules = rules

	var ingestOpts []ingest.Option
	if s.UseOCR {
		ocr, err := ingest.NewTesseractOCR()
		if err != nil {
			return nil, err
		}
		ingestOpts = append(ingestOpts, ingest.WithOCR(ocr))
	}
	if opts.withS3 || s.S3Region != "" || s.S3Endpoint != "" {
		objects, err := ingest.NewS3Store(ctx, ingest.S3Config{Region: s.S3Region, Endpoint: s.S3Endpoint})
		if err != nil {
			return nil, err
		}
		ingestOpts = append(ingestOpts, ingest.WithObjectStore(objects))
	}

	svcOpts := service.Options{
		Rules:  rules,
		Ingest: ingest.NewEngine(ingestOpts...),
		Pipeline: pipeline.Config{
			Workers:               s.Workers,
			MaxConcurrentLLMCalls: s.MaxConcurrentLLMCalls,
			LineBreakIsBoundary:   s.LineBreakIsBoundary,
			Governor: extract.GovernorConfig{
				MaxRequestsPerDocument: s.MaxNormalizePerDocument,
				DedupeRequests:         true,
			},
		},
		Threshold:    s.ConfidenceThreshold,
		SkipAnalysis: s.SkipAnalysis,
		Logger:       logger,
		Metrics:      rt.metrics,
	}

	if s.UseLLM {
		llmCfg, err := llm.ParseLLMFlag(s.LLM)
		if err != nil {
			return nil, err
		}
		llmCfg.APIKey = s.LLMAPIKey
		llmCfg.MaxRetries = s.LLMMaxRetries
		provider, err := llm.NewProvider(ctx, llmCfg)
		if err != nil {
			return nil, fmt.Errorf("creating LLM provider: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = llm.Close(provider) })

		svcOpts.Normalizer = extract.NewLLMNormalizer(provider, rules,
			extract.WithRateLimit(s.LLMRatePerMinute, s.MaxConcurrentLLMCalls),
			extract.WithCallTimeout(s.LLMTimeout),
		)
		svcOpts.Model = provider.Name()
		logger.Info(ctx, "LLM normalizer enabled", zap.String("model", provider.Name()))
	}

	if opts.withStore {
		st, err := store.NewStore(store.StoreConfig{DBPath: s.DBPath})
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		rt.store = st
		rt.closers = append(rt.closers, func() { _ = st.Close() })
		svcOpts.Store = st
	}

	if s.MetricsAddr != "" {
		rt.closers = append(rt.closers, serveMetrics(ctx, s.MetricsAddr, rt.metrics, logger))
	}

	rt.service, err = service.New(svcOpts)
	if err != nil {
		return nil, err
	}
	ok = true
	return rt, nil
}

// serveMetrics exposes /metrics until the returned stop function is called.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "metrics server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "metrics server error", zap.Error(err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(ctx, "metrics server shutdown", zap.Error(err))
		}
	}
}
