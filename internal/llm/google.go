package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// googleProvider implements Provider using the Gemini SDK.
type googleProvider struct {
	client *genai.Client
	model  string
}

func newGoogleProvider(ctx context.Context, apiKey, model, endpoint string) (*googleProvider, error) {
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &googleProvider{client: client, model: model}, nil
}

func (g *googleProvider) Name() string {
	return "google/" + g.model
}

// Close releases the underlying client connection.
func (g *googleProvider) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *googleProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	if g.client == nil {
		return "", errors.New("google provider has no client")
	}
	name := g.model
	if opts.Model != "" {
		name = opts.Model
	}

	model := g.client.GenerativeModel(name)
	model.SetTemperature(float32(opts.Temperature))
	if opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(opts.MaxTokens))
	}
	if strings.ToLower(opts.Format) == "json" {
		model.ResponseMIMEType = "application/json"
		if opts.Schema != nil {
			schema, err := opts.Schema.Schema.genaiSchema()
			if err != nil {
				return "", fmt.Errorf("response schema %s: %w", opts.Schema.Name, err)
			}
			model.ResponseSchema = schema
		}
	}
	if opts.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(opts.System)},
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("google API error: %w", err)
	}
	return responseText(resp)
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("empty response from google API")
	}
	c := resp.Candidates[0]
	if c.Content == nil || len(c.Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from google API (finish reason %v)", c.FinishReason)
	}

	var sb strings.Builder
	for _, part := range c.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("google API returned no text parts")
	}
	return text, nil
}
