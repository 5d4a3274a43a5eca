// Package mcp provides a Model Context Protocol server for docket.
//
// It exposes extraction (docket_extract), stored records (docket_events,
// docket_runs) and the active rule tables (docket_rules) as MCP tools, and
// store statistics and the rule summary as MCP resources. Serve it over
// stdio or streamable HTTP with the mcp-go server package.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/docket/internal/extract"
	"github.com/hurttlocker/docket/internal/output"
	"github.com/hurttlocker/docket/internal/service"
	"github.com/hurttlocker/docket/internal/store"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Service *service.Service
	Version string // version string for MCP server info

	// LineBreakIsBoundary is used when docket_rules previews a text snippet.
	LineBreakIsBoundary bool
}

// dbMu serializes tool calls that touch the database. mcp-go dispatches
// handlers concurrently and SQLite allows a single writer.
var dbMu sync.Mutex

// Maximum records returned inline by a single tool call.
const (
	defaultEventLimit = 100
	maxEventLimit     = 500
)

// NewServer creates a configured MCP server with all docket tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"docket",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerExtractTool(s, cfg.Service)
	registerRulesTool(s, cfg.Service.Rules(), cfg.LineBreakIsBoundary)
	registerRulesResource(s, cfg.Service.Rules())

	if st := cfg.Service.Store(); st != nil {
		registerEventsTool(s, st)
		registerRunsTool(s, st)
		registerStatsResource(s, st)
	}
	return s
}

// --- Tools ---

// extractResult is the docket_extract response.
type extractResult struct {
	RunID     string         `json:"run_id"`
	Persisted bool           `json:"persisted"`
	Documents int            `json:"documents"`
	Records   []output.Row   `json:"records"`
	Truncated bool           `json:"truncated,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`
	Stats     pipelineCounts `json:"stats"`
}

type pipelineCounts struct {
	Chunks          int `json:"chunks"`
	Accepted        int `json:"accepted"`
	Gated           int `json:"gated"`
	NormalizerCalls int `json:"normalizer_calls"`
	FailedDocuments int `json:"failed_documents"`
}

func registerExtractTool(s *server.MCPServer, svc *service.Service) {
	tool := mcp.NewTool("docket_extract",
		mcp.WithDescription("Extract a dated chronology of legal events (filings, hearings, orders, leases...) from PDF, DOCX or TXT case documents. Accepts files, directories or s3:// prefixes. Returns DATE, EVENT, DESCRIPTION, PAGE/SECTION, SOURCE rows."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("File, directory or s3://bucket/prefix to process. Separate several inputs with commas."),
		),
		mcp.WithNumber("threshold",
			mcp.Description("Confidence threshold in (0, 1]; candidates below it are sent to the LLM normalizer (default: configured value)"),
		),
		mcp.WithBoolean("use_llm",
			mcp.Description("Normalize low-confidence candidates with the configured LLM (default: true when one is configured)"),
		),
		mcp.WithBoolean("save",
			mcp.Description("Persist the run so docket_events can query it later (default: true)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum records returned inline (default: 100, max: 500). All records are still saved."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		path, err := req.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError("path is required"), nil
		}
		inputs := splitInputs(path)
		if len(inputs) == 0 {
			return mcp.NewToolResultError("path cannot be empty"), nil
		}

		er := service.ExtractRequest{Inputs: inputs, Persist: true}
		if t, err := req.RequireFloat("threshold"); err == nil {
			er.Threshold = t
		}
		if useLLM, err := req.RequireBool("use_llm"); err == nil {
			er.DisableLLM = !useLLM
		}
		if save, err := req.RequireBool("save"); err == nil {
			er.Persist = save
		}
		limit := readLimit(req, defaultEventLimit)

		report, err := svc.Extract(ctx, er)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("extract error: %v", err)), nil
		}

		result := extractResult{
			RunID:     report.RunID,
			Persisted: report.Persisted,
			Documents: len(report.Documents),
			Records:   toRows(report.Records, limit),
			Truncated: len(report.Records) > limit,
			Warnings:  report.WarningStrings(),
			Stats: pipelineCounts{
				Chunks:          report.Stats.Chunks,
				Accepted:        report.Stats.Accepted,
				Gated:           report.Stats.Gated,
				NormalizerCalls: report.Stats.NormalizerCalls,
				FailedDocuments: report.Stats.FailedDocuments,
			},
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerEventsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("docket_events",
		mcp.WithDescription("Query records from a saved extraction run, ordered by source, date and page. Defaults to the latest run."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("run_id",
			mcp.Description("Run to query (default: latest run)"),
		),
		mcp.WithString("source",
			mcp.Description("Filter by source path (substring match)"),
		),
		mcp.WithString("event_type",
			mcp.Description("Filter by event type"),
			mcp.Enum(eventTypeNames()...),
		),
		mcp.WithString("from",
			mcp.Description("Earliest date, inclusive (YYYY-MM-DD)"),
		),
		mcp.WithString("to",
			mcp.Description("Latest date, inclusive (YYYY-MM-DD)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of records (default: 100, max: 500)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		f := store.EventFilter{Limit: readLimit(req, defaultEventLimit)}
		if v, err := req.RequireString("run_id"); err == nil {
			f.RunID = strings.TrimSpace(v)
		}
		if v, err := req.RequireString("source"); err == nil {
			f.Source = strings.TrimSpace(v)
		}
		if v, err := req.RequireString("event_type"); err == nil {
			f.EventType = strings.TrimSpace(v)
		}
		if v, err := req.RequireString("from"); err == nil {
			f.From = strings.TrimSpace(v)
		}
		if v, err := req.RequireString("to"); err == nil {
			f.To = strings.TrimSpace(v)
		}

		events, err := st.ListEvents(ctx, f)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("events error: %v", err)), nil
		}

		records := make([]extract.Candidate, len(events))
		for i, e := range events {
			records[i] = e.Candidate()
		}
		data, _ := json.MarshalIndent(toRows(records, len(records)), "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerRunsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("docket_runs",
		mcp.WithDescription("List saved extraction runs, newest first, with their inputs, settings and record counts."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of runs (default: 20, max: 500)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		runs, err := st.ListRuns(ctx, readLimit(req, 20))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("runs error: %v", err)), nil
		}

		type runInfo struct {
			ID         string   `json:"id"`
			StartedAt  string   `json:"started_at"`
			Inputs     []string `json:"inputs"`
			Threshold  float64  `json:"threshold"`
			UsedLLM    bool     `json:"used_llm"`
			Model      string   `json:"model,omitempty"`
			Documents  int      `json:"documents"`
			Failed     int      `json:"failed_documents"`
			Records    int      `json:"records"`
			WarningCnt int      `json:"warnings"`
		}
		out := make([]runInfo, 0, len(runs))
		for _, r := range runs {
			out = append(out, runInfo{
				ID:         r.ID,
				StartedAt:  r.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
				Inputs:     r.Inputs,
				Threshold:  r.Threshold,
				UsedLLM:    r.UsedLLM,
				Model:      r.Model,
				Documents:  r.Documents,
				Failed:     r.FailedDocuments,
				Records:    r.RecordCount,
				WarningCnt: len(r.Warnings),
			})
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// rulePreview is one candidate produced for a docket_rules text preview.
type rulePreview struct {
	Row        output.Row `json:"row"`
	Confidence float64    `json:"confidence"`
	HasDate    bool       `json:"has_date"`
	HasEvent   bool       `json:"has_event"`
	Decision   string     `json:"decision"`
}

func registerRulesTool(s *server.MCPServer, rules *extract.Rules, lineBreak bool) {
	tool := mcp.NewTool("docket_rules",
		mcp.WithDescription("Describe the active rule tables (event triggers, date patterns, heading rules). With text, run the rule engine on it and show each candidate, its confidence and whether it would be accepted or sent to the LLM."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Description("Optional text to run through the chunker and rule engine"),
		),
		mcp.WithNumber("threshold",
			mcp.Description("Confidence threshold used for the preview decision (default: 0.6)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, _ := req.RequireString("text")
		if strings.TrimSpace(text) == "" {
			data, _ := json.MarshalIndent(rules.Summary(), "", "  ")
			return mcp.NewToolResultText(string(data)), nil
		}

		threshold := extract.DefaultConfidenceThreshold
		if t, err := req.RequireFloat("threshold"); err == nil {
			if t <= 0 || t > 1 {
				return mcp.NewToolResultError("threshold must be in (0, 1]"), nil
			}
			threshold = t
		}

		gate := extract.NewGate(threshold)
		engine := extract.NewEngine(rules)
		chunks := extract.NewChunker(rules, lineBreak).ChunkDocument("mcp-preview", []extract.Page{{Number: 1, Text: text}})

		previews := []rulePreview{}
		for _, ch := range chunks {
			for _, c := range engine.Extract(ch) {
				previews = append(previews, rulePreview{
					Row:        output.RowFrom(c),
					Confidence: c.Confidence,
					HasDate:    c.HasDate,
					HasEvent:   c.HasEvent,
					Decision:   gate.Route(c).Decision.String(),
				})
			}
		}
		data, _ := json.MarshalIndent(previews, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// --- Helpers ---

func splitInputs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readLimit(req mcp.CallToolRequest, def int) int {
	limit := def
	if v, err := req.RequireFloat("limit"); err == nil {
		if n := int(v); n > 0 {
			limit = n
		}
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	return limit
}

func toRows(records []extract.Candidate, limit int) []output.Row {
	if len(records) > limit {
		records = records[:limit]
	}
	rows := make([]output.Row, len(records))
	for i, c := range records {
		rows[i] = output.RowFrom(c)
	}
	return rows
}

func eventTypeNames() []string {
	names := make([]string, len(extract.EventTypes))
	for i, et := range extract.EventTypes {
		names[i] = string(et)
	}
	return names
}
