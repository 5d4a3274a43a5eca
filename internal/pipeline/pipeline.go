// Package pipeline runs extraction over many documents concurrently.
//
// Documents are processed by a bounded worker pool. Each document is loaded,
// chunked and scanned independently; candidates are appended to a shared
// collector, and the resolver runs once every document has finished or
// failed. Normalizer calls share a separate concurrency cap so a slow model
// never starves the document workers of their own limit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hurttlocker/docket/internal/extract"
	"github.com/hurttlocker/docket/internal/ingest"
	"github.com/hurttlocker/docket/internal/logging"
	"github.com/hurttlocker/docket/internal/metrics"
)

// Stage names used in warnings.
const (
	StageIngest    = "ingest"
	StageNormalize = "normalize"
	StageTimeout   = "timeout"
)

// DocumentLoader loads one document reference into page text.
type DocumentLoader interface {
	Load(ctx context.Context, ref string) (*ingest.Document, error)
}

// Config controls concurrency and per-document behavior.
type Config struct {
	Workers               int           // documents processed at once
	MaxConcurrentLLMCalls int           // normalizer calls in flight across all documents
	LineBreakIsBoundary   bool          // every line is its own chunk
	DocumentTimeout       time.Duration // 0 means no per-document limit
	Governor              extract.GovernorConfig
}

// DefaultConfig returns the recommended defaults.
func DefaultConfig() Config {
	return Config{
		Workers:               4,
		MaxConcurrentLLMCalls: 4,
		Governor:              extract.DefaultGovernorConfig(),
	}
}

// Warning is a per-document failure that did not stop the run.
type Warning struct {
	Source string
	Stage  string
	Err    error
}

func (w Warning) Error() string {
	return fmt.Sprintf("%s: %s: %v", w.Source, w.Stage, w.Err)
}

func (w Warning) Unwrap() error { return w.Err }

// sortWarnings orders warnings by source, stage and message so output does
// not depend on worker scheduling.
func sortWarnings(ws []Warning) {
	sort.SliceStable(ws, func(i, j int) bool {
		if ws[i].Source != ws[j].Source {
			return ws[i].Source < ws[j].Source
		}
		if ws[i].Stage != ws[j].Stage {
			return ws[i].Stage < ws[j].Stage
		}
		return ws[i].Error() < ws[j].Error()
	})
}

// Stats summarizes one run.
type Stats struct {
	Documents            int `json:"documents"`
	FailedDocuments      int `json:"failed_documents"`
	Pages                int `json:"pages"`
	OCRPages             int `json:"ocr_pages"`
	Chunks               int `json:"chunks"`
	RuleCandidates       int `json:"rule_candidates"`
	Accepted             int `json:"accepted"`
	Gated                int `json:"gated"`
	NormalizerCalls      int `json:"normalizer_calls"`
	NormalizerFailures   int `json:"normalizer_failures"`
	NormalizerCandidates int `json:"normalizer_candidates"`
	Records              int `json:"records"`
}

func (s *Stats) add(o Stats) {
	s.Documents += o.Documents
	s.FailedDocuments += o.FailedDocuments
	s.Pages += o.Pages
	s.OCRPages += o.OCRPages
	s.Chunks += o.Chunks
	s.RuleCandidates += o.RuleCandidates
	s.Accepted += o.Accepted
	s.Gated += o.Gated
	s.NormalizerCalls += o.NormalizerCalls
	s.NormalizerFailures += o.NormalizerFailures
	s.NormalizerCandidates += o.NormalizerCandidates
}

// Result is the outcome of a run.
type Result struct {
	Records  []extract.Candidate
	Warnings []Warning
	Stats    Stats
}

// Pipeline wires the loader, rule engine, gate, governor and normalizer.
type Pipeline struct {
	cfg        Config
	rules      *extract.Rules
	loader     DocumentLoader
	chunker    *extract.Chunker
	engine     *extract.Engine
	gate       *extract.Gate
	governor   *extract.Governor
	normalizer extract.Normalizer
	llmSem     chan struct{}
	logger     *logging.Logger
	metrics    *metrics.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNormalizer enables normalization of gated candidates.
func WithNormalizer(n extract.Normalizer) Option {
	return func(p *Pipeline) { p.normalizer = n }
}

// WithGate replaces the default gate.
func WithGate(g *extract.Gate) Option {
	return func(p *Pipeline) {
		if g != nil {
			p.gate = g
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics records counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New validates cfg and builds a pipeline. Configuration errors are returned
// here so nothing is processed with a bad setup.
func New(rules *extract.Rules, loader DocumentLoader, cfg Config, opts ...Option) (*Pipeline, error) {
	if rules == nil {
		return nil, errors.New("pipeline: rules are required")
	}
	if loader == nil {
		return nil, errors.New("pipeline: loader is required")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("pipeline: workers must be positive, got %d", cfg.Workers)
	}

	p := &Pipeline{
		cfg:      cfg,
		rules:    rules,
		loader:   loader,
		chunker:  extract.NewChunker(rules, cfg.LineBreakIsBoundary),
		engine:   extract.NewEngine(rules),
		gate:     extract.NewGate(extract.DefaultConfidenceThreshold),
		governor: extract.NewGovernor(cfg.Governor),
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.normalizer != nil {
		if cfg.MaxConcurrentLLMCalls <= 0 {
			return nil, fmt.Errorf("pipeline: max concurrent LLM calls must be positive, got %d", cfg.MaxConcurrentLLMCalls)
		}
		p.llmSem = make(chan struct{}, cfg.MaxConcurrentLLMCalls)
	}
	return p, nil
}

// collector is the append-only sink shared by document workers.
type collector struct {
	mu         sync.Mutex
	candidates []extract.Candidate
	warnings   []Warning
	stats      Stats
}

func (c *collector) add(d docResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, d.candidates...)
	c.warnings = append(c.warnings, d.warnings...)
	c.stats.add(d.stats)
}

type docResult struct {
	candidates []extract.Candidate
	warnings   []Warning
	stats      Stats
}

// Run processes refs and resolves the collected candidates. Per-document
// failures become warnings. The only error returned is cancellation of ctx,
// in which case no records are produced.
func (p *Pipeline) Run(ctx context.Context, refs []string) (*Result, error) {
	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)

	col := &collector{}
	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			col.add(p.processDocument(ctx, ref))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run cancelled: %w", err)
	}

	records := extract.Resolve(col.candidates)
	col.stats.Records = len(records)
	p.metrics.RecordRecords(len(records))

	sortWarnings(col.warnings)
	return &Result{Records: records, Warnings: col.warnings, Stats: col.stats}, nil
}

// processDocument runs one document end to end. It never returns an error;
// failures are reported as warnings on the result.
func (p *Pipeline) processDocument(ctx context.Context, ref string) docResult {
	start := time.Now()
	ctx = logging.WithDocument(ctx, ref)
	if p.cfg.DocumentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.DocumentTimeout)
		defer cancel()
	}

	res := docResult{stats: Stats{Documents: 1}}
	fail := func(stage string, err error) docResult {
		res.stats.FailedDocuments = 1
		res.candidates = nil
		res.warnings = append(res.warnings, Warning{Source: ref, Stage: stage, Err: err})
		p.logger.Warn(ctx, "document failed", zap.String("stage", stage), zap.Error(err))
		p.metrics.RecordDocument(false, time.Since(start))
		return res
	}

	doc, err := p.loader.Load(ctx, ref)
	if err != nil {
		return fail(StageIngest, err)
	}
	source := doc.SourcePath
	if source == "" {
		source = ref
	}
	res.stats.Pages = len(doc.Pages)
	res.stats.OCRPages = doc.OCRPages()

	chunks := p.chunker.ChunkDocument(source, doc.Pages)
	res.stats.Chunks = len(chunks)
	p.metrics.RecordChunks(len(chunks))

	var requests []extract.NormalizeRequest
	for _, chunk := range chunks {
		for _, c := range p.engine.Extract(chunk) {
			res.stats.RuleCandidates++
			routed := p.gate.Route(c)
			p.metrics.RecordGateDecision(routed.Decision.String())

			// Gated rule candidates stay in the merge; the resolver drops
			// undated ones and picks one survivor per key on collision.
			res.candidates = append(res.candidates, routed.Candidate)
			if routed.Decision == extract.Accepted {
				res.stats.Accepted++
				continue
			}
			res.stats.Gated++
			if p.normalizer != nil {
				requests = append(requests, extract.NewNormalizeRequest(p.rules, chunk, c))
			}
		}
	}
	p.metrics.RecordCandidates(string(extract.OriginRule), res.stats.RuleCandidates)

	if len(requests) > 0 {
		normalized, warnings, calls, failures := p.normalize(ctx, ref, p.governor.Apply(requests))
		res.candidates = append(res.candidates, normalized...)
		res.warnings = append(res.warnings, warnings...)
		res.stats.NormalizerCalls = calls
		res.stats.NormalizerFailures = failures
		res.stats.NormalizerCandidates = len(normalized)
		p.metrics.RecordCandidates(string(extract.OriginLLM), len(normalized))
	}

	if err := ctx.Err(); err != nil && errors.Is(err, context.DeadlineExceeded) {
		return fail(StageTimeout, fmt.Errorf("document exceeded %s: %w", p.cfg.DocumentTimeout, err))
	}

	p.logger.Debug(ctx, "document processed",
		zap.Int("pages", res.stats.Pages),
		zap.Int("chunks", res.stats.Chunks),
		zap.Int("candidates", len(res.candidates)),
		zap.Duration("elapsed", time.Since(start)),
	)
	p.metrics.RecordDocument(true, time.Since(start))
	return res
}

// normalize sends one document's requests, each call holding a slot of the
// shared LLM semaphore. A failed call yields no candidates and a warning.
func (p *Pipeline) normalize(ctx context.Context, ref string, reqs []extract.NormalizeRequest) ([]extract.Candidate, []Warning, int, int) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		out      []extract.Candidate
		warnings []Warning
		calls    int
		failures int
	)

	for _, req := range reqs {
		select {
		case p.llmSem <- struct{}{}:
		case <-ctx.Done():
			mu.Lock()
			warnings = append(warnings, Warning{Source: ref, Stage: StageNormalize, Err: ctx.Err()})
			mu.Unlock()
			wg.Wait()
			return out, warnings, calls, failures
		}

		wg.Add(1)
		go func(req extract.NormalizeRequest) {
			defer wg.Done()
			defer func() { <-p.llmSem }()

			cands, err := p.normalizer.Normalize(ctx, req)

			mu.Lock()
			defer mu.Unlock()
			calls++
			if err != nil {
				failures++
				warnings = append(warnings, Warning{
					Source: ref,
					Stage:  StageNormalize,
					Err:    fmt.Errorf("%s: %w", req.Chunk.Location(), err),
				})
				p.metrics.RecordNormalizerCall("error")
				p.logger.Warn(ctx, "normalizer call failed",
					zap.String("location", req.Chunk.Location()), zap.Error(err))
				return
			}
			if len(cands) == 0 {
				p.metrics.RecordNormalizerCall("empty")
			} else {
				p.metrics.RecordNormalizerCall("ok")
			}
			out = append(out, cands...)
		}(req)
	}
	wg.Wait()
	return out, warnings, calls, failures
}
