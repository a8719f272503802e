package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultModel      = "text-embedding-3-small"
	defaultBatchSize  = 16
	defaultMaxRetries = 3
	defaultTimeout    = 30 * time.Second
	// interBatchDelay paces sub-batches so bulk ingestion does not trip
	// provider rate limits.
	interBatchDelay = 100 * time.Millisecond
)

// ClientConfig configures the OpenAI-compatible embeddings client.
// The same wire format covers Azure OpenAI deployments and Ollama's
// OpenAI-compatible endpoint.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int // 0 = learn from the first response
	BatchSize  int
	MaxRetries int
	Timeout    time.Duration
}

// Client is an OpenAI-compatible embeddings client implementing Embedder.
// Batch calls are split into fixed-size sub-batches with a paced delay
// between them; failure of any sub-batch aborts the whole call with no
// partial results surfaced.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	batchSize  int
	maxRetries int
	http       *http.Client
	limiter    *rate.Limiter

	// dimMu guards dimensions, which is learned from the first response
	// when unconfigured and read by every concurrent decode.
	dimMu      sync.Mutex
	dimensions int
}

// NewClient creates an embeddings client. BaseURL and APIKey are required;
// a missing credential is a configuration error, surfaced immediately.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding: missing API key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		http:       &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Every(interBatchDelay), 1),
	}, nil
}

// Model returns the embedding model identifier.
func (c *Client) Model() string { return c.model }

// Dimensions returns the embedding dimension, or 0 before the first successful call.
func (c *Client) Dimensions() int {
	c.dimMu.Lock()
	defer c.dimMu.Unlock()
	return c.dimensions
}

// Close is a no-op for Client.
func (c *Client) Close() error { return nil }

// Embed returns the embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings for texts, in input order. Texts are submitted
// in sub-batches; an error from any sub-batch fails the entire call and
// callers must not assume partial results exist.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		if start > 0 {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := c.request(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("sub-batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// request submits one sub-batch, retrying transient failures (429, 5xx,
// transport errors) with exponential backoff, honoring Retry-After.
func (c *Client) request(ctx context.Context, texts []string) ([][]float32, error) {
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = NormalizeText(t)
	}
	payload, err := json.Marshal(embeddingRequest{Model: c.model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	waited := false
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && !waited {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay(attempt)):
			}
		}
		waited = false
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("%w: %s", ErrRateLimited, resp.Status)
			// Honoring Retry-After replaces the generic backoff for the
			// next attempt; sleeping both would double the wait.
			if d, ok := retryAfter(resp); ok && attempt < c.maxRetries {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(d):
				}
				waited = true
			}
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%w: %s", ErrProviderUnavailable, resp.Status)
			continue
		case resp.StatusCode >= 300:
			return nil, fmt.Errorf("embedding request failed: %s", resp.Status)
		}
		if readErr != nil {
			lastErr = fmt.Errorf("%w: read body: %v", ErrProviderUnavailable, readErr)
			continue
		}
		vecs, err := c.decode(body, len(texts))
		if err != nil {
			return nil, err
		}
		return vecs, nil
	}
	return nil, lastErr
}

// decode extracts embeddings from body, in input order, and validates that
// every vector has the configured dimension.
func (c *Client) decode(body []byte, want int) ([][]float32, error) {
	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(parsed.Data) != want {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrMalformedResponse, len(parsed.Data), want)
	}
	vecs := make([][]float32, want)
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= want || len(item.Embedding) == 0 {
			return nil, fmt.Errorf("%w: bad embedding at index %d", ErrMalformedResponse, item.Index)
		}
		vecs[item.Index] = item.Embedding
	}
	c.dimMu.Lock()
	defer c.dimMu.Unlock()
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("%w: missing embedding for input %d", ErrMalformedResponse, i)
		}
		if c.dimensions == 0 {
			c.dimensions = len(v)
		}
		if len(v) != c.dimensions {
			return nil, fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(v), c.dimensions)
		}
	}
	return vecs, nil
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(ra)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func retryDelay(attempt int) time.Duration {
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
