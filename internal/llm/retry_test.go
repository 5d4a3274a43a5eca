package llm

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
)

type flakyProvider struct {
	calls atomic.Int32
	errs  []error
}

func (f *flakyProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	n := int(f.calls.Add(1)) - 1
	if n < len(f.errs) {
		return "", f.errs[n]
	}
	return "ok", nil
}

func (f *flakyProvider) Name() string { return "flaky/test" }

func fastRetry(p Provider, n int) *RetryProvider {
	r := NewRetryProvider(p, n)
	r.baseDelay = time.Millisecond
	return r
}

func TestRetryProviderRecovers(t *testing.T) {
	inner := &flakyProvider{errs: []error{
		&HTTPError{Provider: "x", StatusCode: http.StatusTooManyRequests},
		&HTTPError{Provider: "x", StatusCode: http.StatusBadGateway},
	}}
	out, err := fastRetry(inner, 3).Complete(context.Background(), "p", CompletionOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Errorf("got %q", out)
	}
	if inner.calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls.Load())
	}
}

func TestRetryProviderGivesUp(t *testing.T) {
	e := &HTTPError{Provider: "x", StatusCode: http.StatusServiceUnavailable}
	inner := &flakyProvider{errs: []error{e, e, e, e}}
	_, err := fastRetry(inner, 2).Complete(context.Background(), "p", CompletionOpts{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, e) {
		t.Errorf("expected wrapped HTTPError, got %v", err)
	}
	if inner.calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls.Load())
	}
}

func TestRetryProviderDoesNotRetryClientErrors(t *testing.T) {
	inner := &flakyProvider{errs: []error{&HTTPError{Provider: "x", StatusCode: http.StatusBadRequest}}}
	_, err := fastRetry(inner, 3).Complete(context.Background(), "p", CompletionOpts{})
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", inner.calls.Load())
	}
}

func TestRetryProviderHonorsContext(t *testing.T) {
	inner := &flakyProvider{errs: []error{&HTTPError{Provider: "x", StatusCode: 500}}}
	r := NewRetryProvider(inner, 3) // one second base delay
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Complete(ctx, "p", CompletionOpts{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("retry did not stop on context cancellation")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&HTTPError{StatusCode: 429}, true},
		{&HTTPError{StatusCode: 503}, true},
		{&HTTPError{StatusCode: 401}, false},
		{&googleapi.Error{Code: 429}, true},
		{&googleapi.Error{Code: 400}, false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"rows":`), genai.Text(`[]}`)}},
		}},
	}
	got, err := responseText(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"rows":[]}` {
		t.Errorf("got %q", got)
	}

	if _, err := responseText(&genai.GenerateContentResponse{}); err == nil {
		t.Error("expected error for no candidates")
	}
	if _, err := responseText(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}); err == nil {
		t.Error("expected error for empty content")
	}
}

func TestGoogleProviderName(t *testing.T) {
	p := &googleProvider{model: "gemini-2.5-flash"}
	if p.Name() != "google/gemini-2.5-flash" {
		t.Errorf("unexpected name: %q", p.Name())
	}
	if err := Close(p); err != nil {
		t.Errorf("close without client: %v", err)
	}
}
