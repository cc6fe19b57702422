package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/MrEthical07/fingate/guard"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// HTTPConfig is shared by the HTTP fetchers.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	// Client defaults to an http.Client with a 10s timeout.
	Client *http.Client
	// Now stamps quotes that carry no timestamp. Nil means time.Now.
	Now func() time.Time
}

func (c HTTPConfig) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: defaultTimeout}
}

func (c HTTPConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// getJSON issues a GET and decodes a 2xx JSON body into dst. Other
// statuses become *guard.HTTPStatusError.
func getJSON(ctx context.Context, client *http.Client, endpoint string, query url.Values, header http.Header, dst any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("provider: parse url: %w", err)
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return guard.NewHTTPStatusError(resp)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(dst); err != nil {
		return fmt.Errorf("provider: decode response: %w", err)
	}
	return nil
}
