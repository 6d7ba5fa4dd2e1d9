package tracecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// NewHTTPFetch returns a FetchFunc that issues a plain GET and returns the
// response body as text. The request carries the caller's context; timeout
// policy belongs to the supplied client.
func NewHTTPFetch(client *http.Client) FetchFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, url string) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			return "", fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		return string(body), nil
	}
}
