// Package registry looks up legal identifiers in the public company registry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/apperrors"
	"github.com/planwatch/planwatch-engine/pkg/kennitala"
	"github.com/planwatch/planwatch-engine/pkg/retry"
)

const (
	searchPath   = "/fyrirtaekjaskra/leit"
	maxPageBytes = 2 << 20
)

var kennitalaLink = regexp.MustCompile(`/kennitala/(\d{6}-?\d{4})`)

// Searcher resolves a company name to its kennitala.
type Searcher interface {
	Lookup(ctx context.Context, name string) (string, error)
}

// Client searches the registry by name. A search for an unambiguous name
// redirects to the company's page; anything else is a result list or a
// disambiguation page.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      *retry.Config
	cache      Cache
	logger     *zap.Logger
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
	Cache    Cache
}

// NewClient creates a registry client. Redirects are not followed so the
// target of the search redirect can be inspected.
func NewClient(opts Options, logger *zap.Logger) *Client {
	cache := opts.Cache
	if cache == nil {
		cache = noCache{}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		retry:  retry.LinearConfig(opts.Attempts, opts.Backoff),
		cache:  cache,
		logger: logger.Named("registry"),
	}
}

var _ Searcher = (*Client)(nil)

// lookupError is a registry response that may clear up on a later attempt.
type lookupError struct {
	msg       string
	retryable bool
}

func (e *lookupError) Error() string     { return e.msg }
func (e *lookupError) IsRetryable() bool { return e.retryable }

// Lookup returns the kennitala of the company called name.
//
// Rate limiting and disambiguation redirects are retried with linear
// backoff; once the attempts are spent the error wraps
// apperrors.ErrRegistryUnavailable. A name with no match returns
// apperrors.ErrNotFound, several matches apperrors.ErrAmbiguousEntity.
func (c *Client) Lookup(ctx context.Context, name string) (string, error) {
	if kt, ok, err := c.cache.Get(ctx, name); err != nil {
		c.logger.Warn("Registry cache read failed", zap.String("name", name), zap.Error(err))
	} else if ok {
		return kt, nil
	}

	kt, err := retry.DoWithResultIfRetryable(ctx, c.retry, func() (string, error) {
		return c.search(ctx, name)
	})
	if err != nil {
		if retry.IsRetryable(err) {
			c.logger.Info("Giving up on registry lookup",
				zap.String("name", name),
				zap.Error(err))
			return "", fmt.Errorf("%w: %v", apperrors.ErrRegistryUnavailable, err)
		}
		return "", err
	}

	if err := c.cache.Set(ctx, name, kt); err != nil {
		c.logger.Warn("Registry cache write failed", zap.String("name", name), zap.Error(err))
	}
	return kt, nil
}

func (c *Client) search(ctx context.Context, name string) (string, error) {
	endpoint := c.baseURL + searchPath + "?" + url.Values{"nafn": {name}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &lookupError{msg: "registry rate limited the lookup", retryable: true}

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		location := resp.Header.Get("Location")
		if m := kennitalaLink.FindStringSubmatch(location); m != nil {
			return validated(m[1])
		}
		c.logger.Debug("Registry redirected to disambiguation",
			zap.String("name", name),
			zap.String("location", location))
		return "", &lookupError{msg: "registry redirected to " + location, retryable: true}

	case resp.StatusCode == http.StatusNotFound:
		return "", retry.Permanent(apperrors.ErrNotFound)

	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read registry page: %w", err)
	}

	found := distinctKennitolur(string(body))
	switch len(found) {
	case 0:
		return "", retry.Permanent(apperrors.ErrNotFound)
	case 1:
		return validated(found[0])
	default:
		return "", retry.Permanent(fmt.Errorf("%w: %d registry results", apperrors.ErrAmbiguousEntity, len(found)))
	}
}

func distinctKennitolur(page string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range kennitalaLink.FindAllStringSubmatch(page, -1) {
		kt := kennitala.Clean(m[1])
		if !seen[kt] {
			seen[kt] = true
			out = append(out, kt)
		}
	}
	return out
}

func validated(raw string) (string, error) {
	kt := kennitala.Clean(raw)
	if !kennitala.Validate(kt) {
		return "", retry.Permanent(fmt.Errorf("%w: %s", apperrors.ErrInvalidKennitala, kt))
	}
	return kt, nil
}

// IsUnresolvable reports whether err means the name simply has no single
// registry entry, as opposed to a failure of the lookup itself.
func IsUnresolvable(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound) ||
		errors.Is(err, apperrors.ErrAmbiguousEntity) ||
		errors.Is(err, apperrors.ErrInvalidKennitala) ||
		errors.Is(err, apperrors.ErrRegistryUnavailable)
}
