package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/runbookops/runbookd/core"
)

// apiClient is the HTTP plumbing shared by the web, wiki and git-host
// variants: auth header injection, JSON decoding, and mapping of
// transport failures onto the engine's error taxonomy. Callers see
// transient conditions as core.ErrSourceUnavailable or
// core.ErrRateLimited and permanent ones as core.ErrSourceError.
type apiClient struct {
	base   *url.URL
	auth   *core.AuthConfig
	client *http.Client
	source string
}

func newAPIClient(cfg core.SourceConfig) (*apiClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("source %q has no base_url: %w", cfg.Name, core.ErrInvalidConfiguration)
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" {
		return nil, fmt.Errorf("source %q has malformed base_url: %w", cfg.Name, core.ErrInvalidConfiguration)
	}
	return &apiClient{
		base:   base,
		auth:   cfg.Auth,
		source: cfg.Name,
		client: &http.Client{Timeout: cfg.Timeout()},
	}, nil
}

// getJSON issues a GET against base+path and decodes the JSON body into
// out. query may be nil.
func (c *apiClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := *c.base
	u.Path = joinPath(u.Path, path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return core.SourceErrorf(c.source, "SOURCE_ERROR", "building request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	c.applyAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts, refused connections and DNS failures are all
		// transient from the caller's point of view.
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("source %s unreachable: %w", c.source, core.ErrSourceUnavailable)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("source %s truncated response: %w", c.source, core.ErrSourceUnavailable)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return core.SourceErrorf(c.source, "SOURCE_ERROR", "malformed response: %v", err)
	}
	return nil
}

// checkStatus maps non-2xx responses onto the error taxonomy.
func (c *apiClient) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &core.RateLimitedError{
			Source:     c.source,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("source %s: %w", c.source, core.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// Bad credentials will not heal with retries.
		return core.SourceErrorf(c.source, "SOURCE_ERROR", "authentication rejected (status %d)", resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("source %s server error %d: %w", c.source, resp.StatusCode, core.ErrSourceUnavailable)
	default:
		return core.SourceErrorf(c.source, "SOURCE_ERROR", "unexpected status %d", resp.StatusCode)
	}
}

// applyAuth injects the configured credential scheme. Errors surfaced
// to callers never echo the credential values.
func (c *apiClient) applyAuth(req *http.Request) {
	if c.auth == nil || c.auth.Kind == "" {
		return
	}
	switch c.auth.Kind {
	case core.CredentialBasic:
		req.SetBasicAuth(c.auth.Username, c.auth.Password)
	case core.CredentialBearer, core.CredentialOAuth2, core.CredentialAppToken:
		req.Header.Set("Authorization", "Bearer "+c.auth.Token)
	case core.CredentialPersonalToken:
		req.Header.Set("Authorization", "token "+c.auth.Token)
	case core.CredentialAPIKey:
		header := c.auth.HeaderName
		if header == "" {
			header = "X-Api-Key"
		}
		req.Header.Set(header, c.auth.Token)
	case core.CredentialCookie:
		req.Header.Set("Cookie", c.auth.Token)
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return time.Second
}

func joinPath(base, extra string) string {
	if extra == "" {
		return base
	}
	if base == "" || base == "/" {
		return extra
	}
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	if extra[0] != '/' {
		extra = "/" + extra
	}
	return base + extra
}
