package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/nugget/alfred/internal/httpkit"
)

// DefaultOllamaURL is used when no server URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaOptions are the sampling settings sent with each request.
type OllamaOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// OllamaGenerator calls /api/generate on an Ollama server with streaming
// disabled.
type OllamaGenerator struct {
	client *api.Client
	opts   OllamaOptions
}

// NewOllamaGenerator returns a generator for one model. A nil httpClient
// gets an httpkit client with no overall timeout; cancel through ctx.
func NewOllamaGenerator(baseURL string, httpClient *http.Client, opts OllamaOptions) (*OllamaGenerator, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url %q: %w", baseURL, err)
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	if httpClient == nil {
		httpClient = httpkit.NewClient(httpkit.WithTimeout(0))
	}
	return &OllamaGenerator{client: api.NewClient(u, httpClient), opts: opts}, nil
}

// Model returns the configured model name.
func (g *OllamaGenerator) Model() string { return g.opts.Model }

// Generate sends prompt and returns the complete response text.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &api.GenerateRequest{
		Model:  g.opts.Model,
		Prompt: prompt,
		Stream: &stream,
		Options: map[string]any{
			"temperature": g.opts.Temperature,
		},
	}
	if g.opts.MaxTokens > 0 {
		req.Options["num_predict"] = g.opts.MaxTokens
	}

	var out strings.Builder
	err := g.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// The server answered: a missing model or bad request is not an outage.
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return "", fmt.Errorf("generate with %s: %w", g.opts.Model, statusErr)
		}
		return "", fmt.Errorf("%w: generate with %s: %w", ErrUnavailable, g.opts.Model, err)
	}
	return out.String(), nil
}

// Ping checks that the Ollama server answers.
func (g *OllamaGenerator) Ping(ctx context.Context) error {
	if err := g.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}
