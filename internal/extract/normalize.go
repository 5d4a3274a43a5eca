package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hurttlocker/docket/internal/llm"
)

const (
	// DefaultNormalizeTimeout bounds a single normalizer call.
	DefaultNormalizeTimeout = 60 * time.Second

	// DefaultNormalizedConfidence is assigned to every normalizer record; the
	// normalizer is trusted unless it returns nothing.
	DefaultNormalizedConfidence = 0.75

	// normalizeMaxChunkLen caps the chunk text sent to the model.
	normalizeMaxChunkLen = 6000
)

const normalizeSystemPrompt = `You extract legal case events from court documents.

STRICT RULES:
- Return ONLY rows that have an explicit date written in the text. Never infer a missing date.
- Normalize every date to YYYY-MM-DD.
- "event" must be one of: Filing, Hearing, Order, Adjournment, Notice, Bail, Charge, Evidence, Judgment, Application, Service, Settlement, Lease, Appeal, Event.
- Keep "description" to one or two lines, quoting the key phrase from the text.
- Do not invent information not present in the text.
- If no dated events are found, return {"rows":[]}.

Return ONLY a JSON object:
{"rows":[{"date":"YYYY-MM-DD","event":"Hearing","description":"..."}]}`

// normalizeSchema is the response shape providers are asked to enforce. The
// event enum is the closed label set; toCandidates still validates every row.
var normalizeSchema = &llm.ResponseSchema{
	Name: "docket_events",
	Schema: &llm.Schema{
		Type:     "object",
		Required: []string{"rows"},
		Properties: map[string]*llm.Schema{
			"rows": {
				Type: "array",
				Items: &llm.Schema{
					Type:     "object",
					Required: []string{"date", "event", "description"},
					Properties: map[string]*llm.Schema{
						"date":        {Type: "string", Description: "YYYY-MM-DD, written in the text"},
						"event":       {Type: "string", Enum: eventTypeNames()},
						"description": {Type: "string"},
					},
				},
			},
		},
	},
}

func eventTypeNames() []string {
	out := make([]string, len(EventTypes))
	for i, et := range EventTypes {
		out[i] = string(et)
	}
	return out
}

// Hints are the rule engine's guesses, passed to the normalizer as context.
type Hints struct {
	EventType EventType
	HasEvent  bool
	Dates     []string // date strings as written in the chunk
}

// NormalizeRequest is one chunk routed to the normalizer.
type NormalizeRequest struct {
	Chunk     Chunk
	Hints     Hints
	Candidate Candidate // the rule candidate that triggered the request
}

// NewNormalizeRequest builds a request for a gated candidate and its chunk.
func NewNormalizeRequest(rules *Rules, chunk Chunk, c Candidate) NormalizeRequest {
	return NormalizeRequest{
		Chunk: chunk,
		Hints: Hints{
			EventType: c.EventType,
			HasEvent:  c.HasEvent,
			Dates:     rules.DateStrings(chunk.Text),
		},
		Candidate: c,
	}
}

// Normalizer turns a chunk into zero or more records. Implementations may
// block on the network; callers treat any error as "no records".
type Normalizer interface {
	Normalize(ctx context.Context, req NormalizeRequest) ([]Candidate, error)
}

// NormalizerFunc adapts a function to the Normalizer interface.
type NormalizerFunc func(ctx context.Context, req NormalizeRequest) ([]Candidate, error)

// Normalize calls f.
func (f NormalizerFunc) Normalize(ctx context.Context, req NormalizeRequest) ([]Candidate, error) {
	return f(ctx, req)
}

var _ Normalizer = (*LLMNormalizer)(nil)

// LLMNormalizer is the Tier 2 normalizer backed by an llm.Provider.
type LLMNormalizer struct {
	provider   llm.Provider
	rules      *Rules
	limiter    *rate.Limiter
	timeout    time.Duration
	confidence float64
}

// NormalizerOption configures an LLMNormalizer.
type NormalizerOption func(*LLMNormalizer)

// WithRateLimit caps calls per minute. Zero or less disables the limit.
func WithRateLimit(perMinute float64, burst int) NormalizerOption {
	return func(n *LLMNormalizer) {
		if perMinute <= 0 {
			n.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		n.limiter = rate.NewLimiter(rate.Limit(perMinute/60.0), burst)
	}
}

// WithCallTimeout sets the per-call timeout.
func WithCallTimeout(d time.Duration) NormalizerOption {
	return func(n *LLMNormalizer) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithNormalizedConfidence overrides the confidence given to normalizer records.
func WithNormalizedConfidence(c float64) NormalizerOption {
	return func(n *LLMNormalizer) {
		n.confidence = clamp01(c)
	}
}

// NewLLMNormalizer creates a normalizer. The rule table is used to verify
// that every returned date is actually written in the chunk.
func NewLLMNormalizer(provider llm.Provider, rules *Rules, opts ...NormalizerOption) *LLMNormalizer {
	n := &LLMNormalizer{
		provider:   provider,
		rules:      rules,
		timeout:    DefaultNormalizeTimeout,
		confidence: DefaultNormalizedConfidence,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name identifies the backing model.
func (n *LLMNormalizer) Name() string {
	if n.provider == nil {
		return ""
	}
	return n.provider.Name()
}

type normalizeResponse struct {
	Rows []normalizeRow `json:"rows"`
}

type normalizeRow struct {
	Date        string `json:"date"`
	Event       string `json:"event"`
	Description string `json:"description"`
}

// Normalize asks the model for dated events in the chunk. The response is not
// trusted: dates must parse strictly and appear in the chunk, labels are
// mapped into the closed set, descriptions are clamped here, and location,
// page and source always come from the chunk.
func (n *LLMNormalizer) Normalize(ctx context.Context, req NormalizeRequest) ([]Candidate, error) {
	if n.provider == nil {
		return nil, fmt.Errorf("LLM provider is nil")
	}
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	response, err := n.provider.Complete(callCtx, buildNormalizePrompt(req), llm.CompletionOpts{
		Temperature: 0,
		MaxTokens:   1024,
		Format:      "json",
		System:      normalizeSystemPrompt,
		Schema:      normalizeSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM normalize call failed: %w", err)
	}

	parsed, err := parseNormalizeResponse(response)
	if err != nil {
		return nil, fmt.Errorf("parsing normalize response: %w", err)
	}
	return n.toCandidates(req.Chunk, parsed.Rows), nil
}

func (n *LLMNormalizer) toCandidates(chunk Chunk, rows []normalizeRow) []Candidate {
	text := collapseSpace(chunk.Text)
	written := map[string]bool{}
	for _, h := range n.rules.findDates(text).validHits() {
		written[h.iso] = true
	}

	out := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		raw := strings.TrimSpace(row.Date)
		iso := raw
		if !ValidISODate(iso) {
			var ok bool
			if iso, ok = parseDateSpan(raw); !ok {
				continue
			}
		}
		// no inferred dates: the value must be one we can see in the text
		if !written[iso] && !strings.Contains(text, raw) {
			continue
		}

		desc := TruncateDescription(collapseSpace(row.Description))
		if desc == "" {
			desc = TruncateDescription(text)
		}
		et := ParseEventType(row.Event)
		out = append(out, Candidate{
			Date:        iso,
			EventType:   et,
			Description: desc,
			Location:    chunk.Location(),
			SourcePath:  chunk.SourcePath,
			PageNumber:  chunk.PageNumber,
			Confidence:  n.confidence,
			HasDate:     true,
			HasEvent:    et != EventGeneric,
			Origin:      OriginLLM,
		})
	}
	return out
}

// buildNormalizePrompt constructs the user message with chunk metadata and hints.
func buildNormalizePrompt(req NormalizeRequest) string {
	var sb strings.Builder
	sb.WriteString("Meta:\n")
	fmt.Fprintf(&sb, "source: %s\n", req.Chunk.SourcePath)
	fmt.Fprintf(&sb, "page_section: %s\n", req.Chunk.Location())
	if req.Hints.HasEvent {
		fmt.Fprintf(&sb, "rule_event_guess: %s\n", req.Hints.EventType)
	}
	if len(req.Hints.Dates) > 0 {
		fmt.Fprintf(&sb, "dates_seen: %s\n", strings.Join(req.Hints.Dates, "; "))
	}

	text := req.Chunk.Text
	if len(text) > normalizeMaxChunkLen {
		text = truncateAtWordBoundary(text, normalizeMaxChunkLen)
	}
	sb.WriteString("\nText:\n---\n")
	sb.WriteString(text)
	sb.WriteString("\n---\n\nReturn JSON only.")
	return sb.String()
}

// parseNormalizeResponse parses the model's JSON, stripping markdown fences.
func parseNormalizeResponse(raw string) (*normalizeResponse, error) {
	cleaned := stripCodeFences(raw)

	var resp normalizeResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON from LLM: %w\nraw response: %s", err, truncateForError(raw, 300))
	}
	return &resp, nil
}

func stripCodeFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	lines := strings.Split(cleaned, "\n")
	start, end := 0, len(lines)
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if start == 0 {
				start = i + 1
			} else {
				end = i
				break
			}
		}
	}
	if start > 0 && end > start {
		cleaned = strings.Join(lines[start:end], "\n")
	}
	return strings.TrimSpace(cleaned)
}

// truncateForError truncates a string for error messages.
func truncateForError(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// DateStrings returns the date-shaped spans of text as written, valid or not.
func (r *Rules) DateStrings(text string) []string {
	scan := r.findDates(collapseSpace(text))
	out := make([]string, 0, len(scan.hits))
	for _, h := range scan.hits {
		out = append(out, h.raw)
	}
	return out
}
