// Package service runs a complete extraction: input discovery, the
// pipeline, and persistence of the run. The CLI and the MCP server both
// go through it.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hurttlocker/docket/internal/config"
	"github.com/hurttlocker/docket/internal/extract"
	"github.com/hurttlocker/docket/internal/ingest"
	"github.com/hurttlocker/docket/internal/logging"
	"github.com/hurttlocker/docket/internal/metrics"
	"github.com/hurttlocker/docket/internal/pipeline"
	"github.com/hurttlocker/docket/internal/store"
)

// Options configures a Service. Rules and Ingest are required.
type Options struct {
	Rules        *extract.Rules
	Ingest       *ingest.Engine
	Store        store.Store        // nil disables persistence
	Normalizer   extract.Normalizer // nil disables normalization
	Model        string             // recorded with each run
	Pipeline     pipeline.Config
	Threshold    float64
	SkipAnalysis bool
	Logger       *logging.Logger
	Metrics      *metrics.Metrics
}

// Service executes extraction runs.
type Service struct {
	opts Options
}

// New validates opts and returns a Service.
func New(opts Options) (*Service, error) {
	if opts.Rules == nil {
		return nil, errors.New("service: rules are required")
	}
	if opts.Ingest == nil {
		return nil, errors.New("service: ingest engine is required")
	}
	if opts.Threshold == 0 {
		opts.Threshold = extract.DefaultConfidenceThreshold
	}
	if err := validThreshold(opts.Threshold); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Service{opts: opts}, nil
}

// Rules returns the compiled rule tables.
func (s *Service) Rules() *extract.Rules {
	return s.opts.Rules
}

// Store returns the configured store, or nil.
func (s *Service) Store() store.Store {
	return s.opts.Store
}

// HasNormalizer reports whether gated candidates can be normalized.
func (s *Service) HasNormalizer() bool {
	return s.opts.Normalizer != nil
}

// ExtractRequest describes one run.
type ExtractRequest struct {
	Inputs     []string
	Threshold  float64 // 0 keeps the configured threshold
	DisableLLM bool
	Persist    bool
}

// Report is the outcome of a run.
type Report struct {
	RunID      string              `json:"run_id"`
	Documents  []string            `json:"documents"`
	Records    []extract.Candidate `json:"records"`
	Warnings   []pipeline.Warning  `json:"-"`
	Stats      pipeline.Stats      `json:"stats"`
	Persisted  bool                `json:"persisted"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

// WarningStrings renders warnings for display and storage.
func (r *Report) WarningStrings() []string {
	out := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		out[i] = w.Error()
	}
	return out
}

// Extract discovers documents under req.Inputs, runs the pipeline over them
// and, when requested and a store is configured, saves the run.
// Unreadable documents become warnings; errors are reserved for bad
// configuration, undiscoverable inputs, cancellation and storage failures.
func (s *Service) Extract(ctx context.Context, req ExtractRequest) (*Report, error) {
	if len(req.Inputs) == 0 {
		return nil, errors.New("no inputs given")
	}
	threshold := s.opts.Threshold
	if req.Threshold != 0 {
		if err := validThreshold(req.Threshold); err != nil {
			return nil, err
		}
		threshold = req.Threshold
	}

	report := &Report{RunID: uuid.NewString(), StartedAt: time.Now()}
	ctx = logging.WithRunID(ctx, report.RunID)
	log := s.opts.Logger

	refs, loadErrs, err := s.opts.Ingest.Discover(ctx, req.Inputs, ingest.DiscoverOptions{Recursive: true})
	if err != nil {
		return nil, fmt.Errorf("discovering inputs: %w", err)
	}
	report.Documents = refs
	log.Info(ctx, "discovered documents", zap.Int("count", len(refs)), zap.Int("skipped", len(loadErrs)))

	var gateOpts []extract.GateOption
	if s.opts.SkipAnalysis {
		gateOpts = append(gateOpts, extract.WithAnalysisSuppression(s.opts.Rules))
	}
	pipeOpts := []pipeline.Option{
		pipeline.WithGate(extract.NewGate(threshold, gateOpts...)),
		pipeline.WithLogger(log),
		pipeline.WithMetrics(s.opts.Metrics),
	}
	usedLLM := s.opts.Normalizer != nil && !req.DisableLLM
	if usedLLM {
		pipeOpts = append(pipeOpts, pipeline.WithNormalizer(s.opts.Normalizer))
	}

	p, err := pipeline.New(s.opts.Rules, s.opts.Ingest, s.opts.Pipeline, pipeOpts...)
	if err != nil {
		return nil, err
	}
	res, err := p.Run(ctx, refs)
	if err != nil {
		return nil, err
	}

	report.Records = res.Records
	report.Stats = res.Stats
	for _, le := range loadErrs {
		report.Warnings = append(report.Warnings, pipeline.Warning{
			Source: le.File,
			Stage:  pipeline.StageIngest,
			Err:    errors.New(le.Message),
		})
		report.Stats.FailedDocuments++
	}
	report.Warnings = append(report.Warnings, res.Warnings...)
	report.FinishedAt = time.Now()

	log.Info(ctx, "extraction finished",
		zap.Int("documents", res.Stats.Documents),
		zap.Int("records", len(res.Records)),
		zap.Int("warnings", len(report.Warnings)),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)

	if req.Persist && s.opts.Store != nil {
		run := &store.Run{
			ID:              report.RunID,
			StartedAt:       report.StartedAt,
			FinishedAt:      report.FinishedAt,
			Inputs:          req.Inputs,
			Threshold:       threshold,
			UsedLLM:         usedLLM,
			Documents:       len(refs),
			FailedDocuments: report.Stats.FailedDocuments,
			Warnings:        report.WarningStrings(),
		}
		if usedLLM {
			run.Model = s.opts.Model
		}
		if err := s.opts.Store.SaveRun(ctx, run, res.Records); err != nil {
			return nil, fmt.Errorf("saving run: %w", err)
		}
		report.Persisted = true
	}
	return report, nil
}

func validThreshold(t float64) error {
	if t <= 0 || t > 1 {
		return fmt.Errorf("%w: got %v", config.ErrInvalidThreshold, t)
	}
	return nil
}
