package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidThreshold is returned when the confidence threshold is outside (0, 1].
	ErrInvalidThreshold = errors.New("confidence_threshold must be in (0, 1]")
	// ErrInvalidConcurrency is returned for non-positive worker or LLM concurrency.
	ErrInvalidConcurrency = errors.New("concurrency must be positive")
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// ResolveOptions carries the CLI layer. Empty strings mean the flag was not set.
type ResolveOptions struct {
	ConfigPath   string
	CLILLM       string
	CLIUseLLM    string
	CLIThreshold string
	CLIWorkers   string
	CLIRulesPath string
	CLIDBPath    string
	CLIUseOCR    string
	CLILogLevel  string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath    ResolvedValue `json:"db_path"`
	RulesPath ResolvedValue `json:"rules_path"`

	ConfidenceThreshold     ResolvedValue `json:"confidence_threshold"`
	LineBreakIsBoundary     ResolvedValue `json:"line_break_is_boundary"`
	SkipAnalysis            ResolvedValue `json:"skip_analysis"`
	Workers                 ResolvedValue `json:"workers"`
	UseOCR                  ResolvedValue `json:"use_ocr"`
	UseLLM                  ResolvedValue `json:"use_llm"`
	LLM                     ResolvedValue `json:"llm"`
	MaxConcurrentLLMCalls   ResolvedValue `json:"max_concurrent_llm_calls"`
	LLMRatePerMinute        ResolvedValue `json:"llm_rate_per_minute"`
	LLMTimeout              ResolvedValue `json:"llm_timeout"`
	LLMMaxRetries           ResolvedValue `json:"llm_max_retries"`
	MaxNormalizePerDocument ResolvedValue `json:"max_normalize_per_document"`

	LogLevel    ResolvedValue `json:"log_level"`
	LogFormat   ResolvedValue `json:"log_format"`
	S3Region    ResolvedValue `json:"s3_region"`
	S3Endpoint  ResolvedValue `json:"s3_endpoint"`
	MetricsAddr ResolvedValue `json:"metrics_addr"`

	LLMKeys map[string]ResolvedValue `json:"llm_keys,omitempty"`
}

type fileConfig struct {
	DBPath    string `yaml:"db_path"`
	RulesPath string `yaml:"rules_path"`
	Extract   struct {
		ConfidenceThreshold string `yaml:"confidence_threshold"`
		LineBreakIsBoundary string `yaml:"line_break_is_boundary"`
		SkipAnalysis        string `yaml:"skip_analysis"`
		Workers             string `yaml:"workers"`
		UseOCR              string `yaml:"use_ocr"`
	} `yaml:"extract"`
	LLM struct {
		Enabled                 string `yaml:"enabled"`
		Provider                string `yaml:"provider"`
		APIKey                  string `yaml:"api_key"`
		MaxConcurrentCalls      string `yaml:"max_concurrent_calls"`
		RatePerMinute           string `yaml:"rate_per_minute"`
		Timeout                 string `yaml:"timeout"`
		MaxRetries              string `yaml:"max_retries"`
		MaxNormalizePerDocument string `yaml:"max_per_document"`
	} `yaml:"llm"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	S3 struct {
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"s3"`
	MetricsAddr string `yaml:"metrics_addr"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".docket", "config.yaml")
}

func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".docket", "docket.db")
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		LLMKeys:    map[string]ResolvedValue{},
	}
	applyDefaults(&out)

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.RulesPath, cfg.RulesPath, SourceConfig, path)
		apply(&out.ConfidenceThreshold, cfg.Extract.ConfidenceThreshold, SourceConfig, path)
		apply(&out.LineBreakIsBoundary, cfg.Extract.LineBreakIsBoundary, SourceConfig, path)
		apply(&out.SkipAnalysis, cfg.Extract.SkipAnalysis, SourceConfig, path)
		apply(&out.Workers, cfg.Extract.Workers, SourceConfig, path)
		apply(&out.UseOCR, cfg.Extract.UseOCR, SourceConfig, path)
		apply(&out.UseLLM, cfg.LLM.Enabled, SourceConfig, path)
		apply(&out.LLM, cfg.LLM.Provider, SourceConfig, path)
		apply(&out.MaxConcurrentLLMCalls, cfg.LLM.MaxConcurrentCalls, SourceConfig, path)
		apply(&out.LLMRatePerMinute, cfg.LLM.RatePerMinute, SourceConfig, path)
		apply(&out.LLMTimeout, cfg.LLM.Timeout, SourceConfig, path)
		apply(&out.LLMMaxRetries, cfg.LLM.MaxRetries, SourceConfig, path)
		apply(&out.MaxNormalizePerDocument, cfg.LLM.MaxNormalizePerDocument, SourceConfig, path)
		apply(&out.LogLevel, cfg.Log.Level, SourceConfig, path)
		apply(&out.LogFormat, cfg.Log.Format, SourceConfig, path)
		apply(&out.S3Region, cfg.S3.Region, SourceConfig, path)
		apply(&out.S3Endpoint, cfg.S3.Endpoint, SourceConfig, path)
		apply(&out.MetricsAddr, cfg.MetricsAddr, SourceConfig, path)

		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			p := providerOf(cfg.LLM.Provider)
			if p == "" {
				p = "default"
			}
			out.LLMKeys[p] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}
	}

	// Legacy names first so the DOCKET_* spelling wins when both are set.
	applyEnv(&out.ConfidenceThreshold, "CONFIDENCE_THRESHOLD")
	applyEnv(&out.UseLLM, "USE_LLM")
	applyEnv(&out.UseOCR, "USE_OCR")
	applyEnv(&out.MaxConcurrentLLMCalls, "LLM_MAX_CALL_RATE")
	applyLegacyLLM(&out.LLM)
	applyEnv(&out.S3Region, "AWS_REGION")

	applyEnv(&out.DBPath, "DOCKET_DB")
	applyEnv(&out.DBPath, "DOCKET_DB_PATH")
	applyEnv(&out.RulesPath, "DOCKET_RULES")
	applyEnv(&out.ConfidenceThreshold, "DOCKET_CONFIDENCE_THRESHOLD")
	applyEnv(&out.LineBreakIsBoundary, "DOCKET_LINE_BREAK_IS_BOUNDARY")
	applyEnv(&out.SkipAnalysis, "DOCKET_SKIP_ANALYSIS")
	applyEnv(&out.Workers, "DOCKET_WORKERS")
	applyEnv(&out.UseOCR, "DOCKET_USE_OCR")
	applyEnv(&out.UseLLM, "DOCKET_USE_LLM")
	applyEnv(&out.LLM, "DOCKET_LLM")
	applyEnv(&out.MaxConcurrentLLMCalls, "DOCKET_MAX_CONCURRENT_LLM_CALLS")
	applyEnv(&out.LLMRatePerMinute, "DOCKET_LLM_RATE_PER_MINUTE")
	applyEnv(&out.LLMTimeout, "DOCKET_LLM_TIMEOUT")
	applyEnv(&out.LLMMaxRetries, "DOCKET_LLM_MAX_RETRIES")
	applyEnv(&out.MaxNormalizePerDocument, "DOCKET_MAX_NORMALIZE_PER_DOCUMENT")
	applyEnv(&out.LogLevel, "DOCKET_LOG_LEVEL")
	applyEnv(&out.LogFormat, "DOCKET_LOG_FORMAT")
	applyEnv(&out.S3Region, "DOCKET_S3_REGION")
	applyEnv(&out.S3Endpoint, "DOCKET_S3_ENDPOINT")
	applyEnv(&out.MetricsAddr, "DOCKET_METRICS_ADDR")

	for env, provider := range map[string]string{
		"OPENROUTER_API_KEY": "openrouter",
		"GEMINI_API_KEY":     "google",
		"GOOGLE_API_KEY":     "google",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.LLMKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.LLM, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.UseLLM, opts.CLIUseLLM, SourceCLI, "--use-llm")
	apply(&out.ConfidenceThreshold, opts.CLIThreshold, SourceCLI, "--threshold")
	apply(&out.Workers, opts.CLIWorkers, SourceCLI, "--workers")
	apply(&out.RulesPath, opts.CLIRulesPath, SourceCLI, "--rules")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.UseOCR, opts.CLIUseOCR, SourceCLI, "--ocr")
	apply(&out.LogLevel, opts.CLILogLevel, SourceCLI, "--log-level")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}
	if out.RulesPath.Value != "" {
		out.RulesPath.Value = expandUserPath(out.RulesPath.Value)
	}

	return out, nil
}

func applyDefaults(out *ResolvedConfig) {
	for dst, v := range map[*ResolvedValue]string{
		&out.DBPath:                  DefaultDBPath(),
		&out.ConfidenceThreshold:     "0.6",
		&out.LineBreakIsBoundary:     "false",
		&out.SkipAnalysis:            "false",
		&out.Workers:                 "4",
		&out.UseOCR:                  "false",
		&out.UseLLM:                  "false",
		&out.LLM:                     "google/gemini-2.5-flash",
		&out.MaxConcurrentLLMCalls:   "4",
		&out.LLMRatePerMinute:        "0",
		&out.LLMTimeout:              "30s",
		&out.LLMMaxRetries:           "2",
		&out.MaxNormalizePerDocument: "0",
		&out.LogLevel:                "info",
		&out.LogFormat:               "console",
	} {
		*dst = ResolvedValue{Value: v, Source: SourceDefault, From: "built-in default"}
	}
}

// applyLegacyLLM combines LLM_PROVIDER and LLM_MODEL into a provider/model value.
func applyLegacyLLM(dst *ResolvedValue) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER")))
	model := strings.TrimSpace(os.Getenv("LLM_MODEL"))
	if provider == "" && model == "" {
		return
	}
	if provider == "gemini" {
		provider = "google"
	}
	if provider == "" {
		provider = providerOf(dst.Value)
	}
	if model == "" {
		if _, m, ok := strings.Cut(dst.Value, "/"); ok && providerOf(dst.Value) == provider {
			model = m
		}
	}
	if provider == "" || model == "" {
		return
	}
	from := "LLM_PROVIDER,LLM_MODEL"
	*dst = ResolvedValue{Value: provider + "/" + model, Source: SourceEnv, From: from}
}

func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

// Settings is the typed form of a ResolvedConfig.
type Settings struct {
	DBPath    string
	RulesPath string

	ConfidenceThreshold     float64
	LineBreakIsBoundary     bool
	SkipAnalysis            bool
	Workers                 int
	UseOCR                  bool
	UseLLM                  bool
	LLM                     string
	LLMAPIKey               string
	MaxConcurrentLLMCalls   int
	LLMRatePerMinute        float64
	LLMTimeout              time.Duration
	LLMMaxRetries           int
	MaxNormalizePerDocument int

	LogLevel    string
	LogFormat   string
	S3Region    string
	S3Endpoint  string
	MetricsAddr string
}

// Settings parses every resolved value. Parse errors name the offending
// setting and where it came from.
func (r ResolvedConfig) Settings() (Settings, error) {
	p := parser{}
	s := Settings{
		DBPath:                  r.DBPath.Value,
		RulesPath:               r.RulesPath.Value,
		ConfidenceThreshold:     p.floatValue("confidence_threshold", r.ConfidenceThreshold),
		LineBreakIsBoundary:     p.boolValue("line_break_is_boundary", r.LineBreakIsBoundary),
		SkipAnalysis:            p.boolValue("skip_analysis", r.SkipAnalysis),
		Workers:                 p.intValue("workers", r.Workers),
		UseOCR:                  p.boolValue("use_ocr", r.UseOCR),
		UseLLM:                  p.boolValue("use_llm", r.UseLLM),
		LLM:                     r.LLM.Value,
		LLMAPIKey:               r.APIKeyForProvider(r.LLM.Value).Value,
		MaxConcurrentLLMCalls:   p.intValue("max_concurrent_llm_calls", r.MaxConcurrentLLMCalls),
		LLMRatePerMinute:        p.floatValue("llm_rate_per_minute", r.LLMRatePerMinute),
		LLMTimeout:              p.durationValue("llm_timeout", r.LLMTimeout),
		LLMMaxRetries:           p.intValue("llm_max_retries", r.LLMMaxRetries),
		MaxNormalizePerDocument: p.intValue("max_normalize_per_document", r.MaxNormalizePerDocument),
		LogLevel:                strings.ToLower(r.LogLevel.Value),
		LogFormat:               strings.ToLower(r.LogFormat.Value),
		S3Region:                r.S3Region.Value,
		S3Endpoint:              r.S3Endpoint.Value,
		MetricsAddr:             r.MetricsAddr.Value,
	}
	if p.err != nil {
		return Settings{}, p.err
	}
	return s, nil
}

// Validate rejects settings that would make a run meaningless.
func (s Settings) Validate() error {
	if !(s.ConfidenceThreshold > 0 && s.ConfidenceThreshold <= 1) {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, s.ConfidenceThreshold)
	}
	if s.Workers <= 0 {
		return fmt.Errorf("workers: %w: got %d", ErrInvalidConcurrency, s.Workers)
	}
	if s.UseLLM && s.MaxConcurrentLLMCalls <= 0 {
		return fmt.Errorf("max_concurrent_llm_calls: %w: got %d", ErrInvalidConcurrency, s.MaxConcurrentLLMCalls)
	}
	if s.LLMRatePerMinute < 0 {
		return fmt.Errorf("llm_rate_per_minute must not be negative: got %v", s.LLMRatePerMinute)
	}
	if s.LLMMaxRetries < 0 || s.MaxNormalizePerDocument < 0 {
		return fmt.Errorf("llm_max_retries and max_normalize_per_document must not be negative")
	}
	switch s.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log_format must be json or console: got %q", s.LogFormat)
	}
	return nil
}

// parser keeps the first error so Settings can convert every field in one pass.
type parser struct {
	err error
}

func (p *parser) fail(name string, v ResolvedValue, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s=%q (from %s): %w", name, v.Value, describe(v), err)
	}
}

func (p *parser) floatValue(name string, v ResolvedValue) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
	if err != nil {
		p.fail(name, v, err)
	}
	return f
}

func (p *parser) intValue(name string, v ResolvedValue) int {
	n, err := strconv.Atoi(strings.TrimSpace(v.Value))
	if err != nil {
		p.fail(name, v, err)
	}
	return n
}

func (p *parser) boolValue(name string, v ResolvedValue) bool {
	switch strings.ToLower(strings.TrimSpace(v.Value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off", "":
		return false
	}
	p.fail(name, v, errors.New("not a boolean"))
	return false
}

func (p *parser) durationValue(name string, v ResolvedValue) time.Duration {
	raw := strings.TrimSpace(v.Value)
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(name, v, err)
	}
	return d
}

func describe(v ResolvedValue) string {
	if v.From != "" {
		return fmt.Sprintf("%s %s", v.Source, v.From)
	}
	return string(v.Source)
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
