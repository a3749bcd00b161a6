package prefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPAuthSource fetches authorization payloads from the external
// authorization service over HTTP.
type HTTPAuthSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAuthSource creates a source against baseURL. The timeout caps each
// load; warm callers can impose a tighter one through their context.
func NewHTTPAuthSource(baseURL string, timeout time.Duration) *HTTPAuthSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPAuthSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Load implements AuthSource.
func (s *HTTPAuthSource) Load(ctx context.Context, key string) ([]byte, error) {
	u := fmt.Sprintf("%s/authz?key=%s", s.baseURL, url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("auth source: building request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth source: fetching %q: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth source: fetching %q: status %d", key, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
