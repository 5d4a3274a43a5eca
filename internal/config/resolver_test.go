package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable the resolver reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIDENCE_THRESHOLD", "USE_LLM", "USE_OCR", "LLM_MAX_CALL_RATE", "LLM_PROVIDER", "LLM_MODEL", "AWS_REGION",
		"DOCKET_DB", "DOCKET_DB_PATH", "DOCKET_RULES", "DOCKET_CONFIDENCE_THRESHOLD", "DOCKET_LINE_BREAK_IS_BOUNDARY",
		"DOCKET_SKIP_ANALYSIS", "DOCKET_WORKERS", "DOCKET_USE_OCR", "DOCKET_USE_LLM", "DOCKET_LLM",
		"DOCKET_MAX_CONCURRENT_LLM_CALLS", "DOCKET_LLM_RATE_PER_MINUTE", "DOCKET_LLM_TIMEOUT", "DOCKET_LLM_MAX_RETRIES",
		"DOCKET_MAX_NORMALIZE_PER_DOCUMENT", "DOCKET_LOG_LEVEL", "DOCKET_LOG_FORMAT", "DOCKET_S3_REGION",
		"DOCKET_S3_ENDPOINT", "DOCKET_METRICS_ADDR", "OPENROUTER_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestResolveConfig_Defaults(t *testing.T) {
	clearEnv(t)

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	s, err := resolved.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	if s.ConfidenceThreshold != 0.6 {
		t.Errorf("threshold = %v, want 0.6", s.ConfidenceThreshold)
	}
	if s.UseLLM || s.UseOCR || s.LineBreakIsBoundary {
		t.Errorf("llm, ocr and line-break boundary should default off: %+v", s)
	}
	if s.Workers != 4 || s.MaxConcurrentLLMCalls != 4 {
		t.Errorf("workers=%d llm calls=%d, want 4 and 4", s.Workers, s.MaxConcurrentLLMCalls)
	}
	if s.LLMTimeout != 30*time.Second {
		t.Errorf("llm timeout = %v", s.LLMTimeout)
	}
	if !strings.HasSuffix(s.DBPath, filepath.Join(".docket", "docket.db")) {
		t.Errorf("db path = %q", s.DBPath)
	}
	if resolved.ConfidenceThreshold.Source != SourceDefault {
		t.Errorf("expected default source, got %s", resolved.ConfidenceThreshold.Source)
	}
}

func TestResolveConfig_Precedence_ConfigEnvCLI(t *testing.T) {
	clearEnv(t)
	cfgPath := writeConfig(t, `db_path: ~/.docket/from-config.db
extract:
  confidence_threshold: 0.7
  workers: 2
llm:
  provider: openrouter/openai/gpt-4o-mini
  max_concurrent_calls: 3
`)

	t.Setenv("DOCKET_DB", "~/from-env.db")
	t.Setenv("DOCKET_WORKERS", "6")
	t.Setenv("DOCKET_LLM", "google/gemini-2.5-flash")

	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: cfgPath,
		CLILLM:     "openrouter/google/gemini-2.0-flash-001",
		CLIDBPath:  "~/from-cli.db",
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}

	if resolved.DBPath.Source != SourceCLI {
		t.Fatalf("expected DB path source cli, got %s", resolved.DBPath.Source)
	}
	if resolved.LLM.Source != SourceCLI || resolved.LLM.From != "--llm" {
		t.Fatalf("expected llm from --llm, got %+v", resolved.LLM)
	}
	if resolved.Workers.Source != SourceEnv || resolved.Workers.Value != "6" {
		t.Fatalf("expected workers from env, got %+v", resolved.Workers)
	}
	if resolved.ConfidenceThreshold.Source != SourceConfig || resolved.ConfidenceThreshold.Value != "0.7" {
		t.Fatalf("expected threshold from config, got %+v", resolved.ConfidenceThreshold)
	}
	if resolved.MaxConcurrentLLMCalls.Value != "3" {
		t.Fatalf("expected llm calls from config, got %+v", resolved.MaxConcurrentLLMCalls)
	}
	home, _ := os.UserHomeDir()
	if resolved.DBPath.Value != filepath.Join(home, "from-cli.db") {
		t.Fatalf("expected expanded db path, got %q", resolved.DBPath.Value)
	}
}

func TestResolveConfig_LegacyEnvNames(t *testing.T) {
	clearEnv(t)
	t.Setenv("USE_LLM", "true")
	t.Setenv("USE_OCR", "true")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.5")
	t.Setenv("LLM_MAX_CALL_RATE", "8")
	t.Setenv("LLM_PROVIDER", "gemini")
	t.Setenv("LLM_MODEL", "gemini-1.5-flash")

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "none.yaml")})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	s, err := resolved.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if !s.UseLLM || !s.UseOCR {
		t.Errorf("legacy booleans not applied: %+v", s)
	}
	if s.ConfidenceThreshold != 0.5 || s.MaxConcurrentLLMCalls != 8 {
		t.Errorf("threshold=%v calls=%d", s.ConfidenceThreshold, s.MaxConcurrentLLMCalls)
	}
	if s.LLM != "google/gemini-1.5-flash" {
		t.Errorf("llm = %q, want google/gemini-1.5-flash", s.LLM)
	}

	t.Setenv("DOCKET_CONFIDENCE_THRESHOLD", "0.8")
	resolved, err = ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "none.yaml")})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if resolved.ConfidenceThreshold.Value != "0.8" || resolved.ConfidenceThreshold.From != "DOCKET_CONFIDENCE_THRESHOLD" {
		t.Errorf("DOCKET_* should win over the legacy name, got %+v", resolved.ConfidenceThreshold)
	}
}

func TestResolveConfig_LegacyModelOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_MODEL", "gemini-2.0-flash")

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "none.yaml")})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if resolved.LLM.Value != "google/gemini-2.0-flash" {
		t.Fatalf("expected model applied to default provider, got %q", resolved.LLM.Value)
	}
}

func TestResolveConfig_InvalidYAML(t *testing.T) {
	clearEnv(t)
	cfgPath := writeConfig(t, "extract: [unterminated")
	if _, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestAPIKeyForProvider_EnvOverridesConfig(t *testing.T) {
	clearEnv(t)
	cfgPath := writeConfig(t, `llm:
  provider: openrouter/openai/gpt-4o-mini
  api_key: config-key
`)
	t.Setenv("OPENROUTER_API_KEY", "env-key")

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	k := resolved.APIKeyForProvider("openrouter/some-model")
	if k.Value != "env-key" {
		t.Fatalf("expected env key, got %q", k.Value)
	}
	if k.Source != SourceEnv {
		t.Fatalf("expected env source, got %s", k.Source)
	}

	s, err := resolved.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.LLMAPIKey != "env-key" {
		t.Fatalf("settings key = %q", s.LLMAPIKey)
	}
}

func TestAPIKeyForProvider_DefaultKey(t *testing.T) {
	resolved := ResolvedConfig{LLMKeys: map[string]ResolvedValue{
		"default": {Value: "shared", Source: SourceConfig},
	}}
	if k := resolved.APIKeyForProvider("google/gemini-2.5-flash"); k.Value != "shared" {
		t.Fatalf("expected default key fallback, got %q", k.Value)
	}
	if k := resolved.APIKeyForProvider(""); k.Value != "" {
		t.Fatalf("empty provider should have no key, got %q", k.Value)
	}
}

func TestSettings_ParseErrorNamesSource(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCKET_WORKERS", "many")

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "none.yaml")})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	_, err = resolved.Settings()
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "workers") || !strings.Contains(err.Error(), "DOCKET_WORKERS") {
		t.Fatalf("error should name the setting and its source: %v", err)
	}
}

func TestSettings_DurationAcceptsSeconds(t *testing.T) {
	r := ResolvedConfig{}
	applyDefaults(&r)
	r.LLMTimeout = ResolvedValue{Value: "45", Source: SourceEnv}

	s, err := r.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.LLMTimeout != 45*time.Second {
		t.Fatalf("timeout = %v, want 45s", s.LLMTimeout)
	}
}

func TestSettings_Validate(t *testing.T) {
	base := func() Settings {
		r := ResolvedConfig{}
		applyDefaults(&r)
		s, err := r.Settings()
		if err != nil {
			t.Fatalf("Settings: %v", err)
		}
		return s
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr error
	}{
		{"threshold zero", func(s *Settings) { s.ConfidenceThreshold = 0 }, ErrInvalidThreshold},
		{"threshold above one", func(s *Settings) { s.ConfidenceThreshold = 1.2 }, ErrInvalidThreshold},
		{"threshold one ok", func(s *Settings) { s.ConfidenceThreshold = 1 }, nil},
		{"zero workers", func(s *Settings) { s.Workers = 0 }, ErrInvalidConcurrency},
		{"llm calls zero with llm", func(s *Settings) { s.UseLLM = true; s.MaxConcurrentLLMCalls = 0 }, ErrInvalidConcurrency},
		{"llm calls zero without llm", func(s *Settings) { s.MaxConcurrentLLMCalls = 0 }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}

	s := base()
	s.LogFormat = "xml"
	if err := s.Validate(); err == nil {
		t.Fatal("expected log format error")
	}
	s = base()
	s.LLMRatePerMinute = -1
	if err := s.Validate(); err == nil {
		t.Fatal("expected negative rate error")
	}
}
