package lexicon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/retry"
)

// DefaultTimeout bounds a single request to the lexical service.
const DefaultTimeout = 20 * time.Second

// Client talks to the lexical analysis service over HTTP/JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      *retry.Config
	logger     *zap.Logger
}

// NewClient creates a lexical service client.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry.DefaultConfig(),
		logger:     logger.Named("lexicon"),
	}
}

var _ Analyzer = (*Client)(nil)

// Tokenize implements Tokenizer.
func (c *Client) Tokenize(ctx context.Context, text string) ([]Sentence, error) {
	var response struct {
		Sentences []Sentence `json:"sentences"`
	}
	if err := c.post(ctx, "/tokenize", map[string]string{"text": text}, &response); err != nil {
		return nil, err
	}
	return response.Sentences, nil
}

// Parse implements Parser.
func (c *Client) Parse(ctx context.Context, sentence string) ([]Token, error) {
	var response struct {
		Parsed bool    `json:"parsed"`
		Tokens []Token `json:"tokens"`
	}
	if err := c.post(ctx, "/parse", map[string]string{"sentence": sentence}, &response); err != nil {
		return nil, err
	}
	if !response.Parsed || len(response.Tokens) == 0 {
		return nil, ErrParseFailed
	}
	return response.Tokens, nil
}

// Inflections implements Inflector.
func (c *Client) Inflections(ctx context.Context, lemma string) ([]string, error) {
	endpoint := c.baseURL + "/inflections?" + url.Values{"lemma": {lemma}}.Encode()

	var response struct {
		Forms []string `json:"forms"`
	}
	err := retry.DoIfRetryable(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		return c.do(req, &response)
	})
	if err != nil {
		return nil, err
	}
	return response.Forms, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	return retry.DoIfRetryable(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.do(req, out)
	})
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call lexical service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("lexical service returned error",
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("lexical service returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
