package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	pkgretry "localrag/internal/pkg/retry"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "text-embedding-3-small"
)

var ErrEmptyEmbedding = errors.New("openai: no embedding returned")

// Client is an OpenAI-compatible embeddings client. Any server exposing
// /v1/embeddings works: llama.cpp server, Ollama, vLLM or OpenAI itself.
type Client struct {
	client  *goopenai.Client
	model   string
	limiter *rate.Limiter
	retry   pkgretry.RetryConfig
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
	// RequestsPerSecond throttles outgoing calls; zero means unlimited.
	RequestsPerSecond float64
	Retry             pkgretry.RetryConfig
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	// Local servers accept anonymous requests, the hosted API does not.
	if key == "" && strings.HasPrefix(cfg.BaseURL, defaultBaseURL) {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}

	occ := goopenai.DefaultConfig(key)
	occ.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	occ.HTTPClient = &http.Client{Timeout: t}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		client:  goopenai.NewClientWithConfig(occ),
		model:   cfg.Model,
		limiter: rate.NewLimiter(limit, 1),
		retry:   cfg.Retry.WithDefaults(),
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai:" + c.model }

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("openai: cannot embed empty text")
	}
	opts := append(c.retry.ToRetryOptions(),
		retry.Context(ctx),
		retry.RetryIf(isTransient),
	)
	return retry.DoWithData(func() ([]float32, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, retry.Unrecoverable(err)
		}
		resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
			Model: goopenai.EmbeddingModel(c.model),
			Input: []string{text},
		})
		if err != nil {
			return nil, fmt.Errorf("openai embeddings: %w", err)
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return nil, ErrEmptyEmbedding
		}
		src := resp.Data[0].Embedding
		v := make([]float32, len(src))
		for i := range src {
			v[i] = float32(src[i])
		}
		return v, nil
	}, opts...)
}

// isTransient reports whether a failed call is worth repeating: throttling,
// server errors and transport failures are; client errors are not.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyEmbedding) {
		return true
	}
	status := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == 0 {
		return true
	}
	return status == http.StatusTooManyRequests || status >= 500
}
