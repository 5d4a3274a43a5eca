package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrTruncated means the model stopped at the token limit. A cut-off JSON
// body is useless to the normalizer, so it is reported instead of returned.
var ErrTruncated = errors.New("response truncated at max_tokens")

const openrouterBaseURL = "https://openrouter.ai/api/v1"

// openrouterProvider talks to OpenRouter's OpenAI-compatible chat endpoint.
type openrouterProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  http.Client
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseFormat is either {"type":"json_object"} or a strict json_schema.
type responseFormat struct {
	Type       string       `json:"type"`
	JSONSchema *namedSchema `json:"json_schema,omitempty"`
}

type namedSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *chatError   `json:"error,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// chatError is an error object in a 200 body. OpenRouter reports upstream
// provider failures this way, with the upstream status in code.
type chatError struct {
	Message string `json:"message"`
	Code    any    `json:"code"`
}

func (o *openrouterProvider) Name() string {
	return "openrouter/" + o.model
}

func (o *openrouterProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	body, err := o.buildRequest(prompt, opts)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("HTTP-Referer", "https://github.com/hurttlocker/docket")
	httpReq.Header.Set("X-Title", "docket")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", newHTTPError("openrouter", resp, respBody)
	}
	return decodeChatResponse(respBody)
}

func (o *openrouterProvider) buildRequest(prompt string, opts CompletionOpts) ([]byte, error) {
	req := chatRequest{
		Model:       o.model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.System != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: opts.System})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: prompt})

	if strings.ToLower(opts.Format) == "json" {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
		if opts.Schema != nil && opts.Schema.Schema != nil {
			raw, err := opts.Schema.Schema.MarshalStrict()
			if err != nil {
				return nil, fmt.Errorf("encoding response schema: %w", err)
			}
			req.ResponseFormat = &responseFormat{
				Type:       "json_schema",
				JSONSchema: &namedSchema{Name: opts.Schema.Name, Strict: true, Schema: raw},
			}
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	return body, nil
}

func decodeChatResponse(body []byte) (string, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if resp.Error != nil {
		if code, ok := resp.Error.statusCode(); ok {
			return "", &HTTPError{Provider: "openrouter", StatusCode: code, Message: resp.Error.Message}
		}
		return "", fmt.Errorf("openrouter API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from openrouter API")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "length" {
		return "", fmt.Errorf("openrouter: %w", ErrTruncated)
	}
	return strings.TrimSpace(choice.Message.Content), nil
}

// statusCode reads code as an HTTP status when it is one.
func (e *chatError) statusCode() (int, bool) {
	f, ok := e.Code.(float64)
	if !ok || f < 400 || f > 599 {
		return 0, false
	}
	return int(f), true
}
