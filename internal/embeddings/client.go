package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

// Provider produces text embedding vectors. The HTTP client is the
// production implementation; tests substitute stubs.
type Provider interface {
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Client calls an OpenAI-compatible embeddings endpoint. The job-level
// dual bucket owns real rate limiting; the client only keeps a pacing
// floor so a misconfigured job cannot hammer the provider.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	pace    *rate.Limiter
	logger  arbor.ILogger
}

// NewClient reads credentials from the process environment. The key is
// held in memory and never logged.
func NewClient(logger arbor.ILogger, baseURL string) *Client {
	if override := os.Getenv("OPENAI_BASE_URL"); override != "" {
		baseURL = override
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  os.Getenv("OPENAI_API_KEY"),
		http:    &http.Client{Timeout: 60 * time.Second},
		pace:    rate.NewLimiter(rate.Limit(10), 10),
		logger:  logger,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedBatch embeds texts in one provider call, returning vectors in
// input order.
func (c *Client) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if err := c.pace.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(embedRequest{Model: model, Input: texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding provider returned %d: %s",
			resp.StatusCode, truncate(string(raw), 500))
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d inputs",
			len(parsed.Data), len(texts))
	}

	sort.Slice(parsed.Data, func(i, j int) bool {
		return parsed.Data[i].Index < parsed.Data[j].Index
	})
	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// EstimateTokens approximates the provider's token accounting from byte
// length: one token per four bytes, padded 20% to err on the safe side
// of the token bucket.
func EstimateTokens(text string) int {
	n := int(float64(len(text)) / 4 * 1.2)
	if n < 1 {
		return 1
	}
	return n
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
