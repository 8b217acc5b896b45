// ABOUTME: HTTP client for the track catalog service
// ABOUTME: Wraps resty with timeouts and error classification
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tonearm/tonearm/pkg/media"
)

const defaultTimeout = 15 * time.Second

// Client talks to the catalog service that knows tracks and their
// stream URLs.
type Client struct {
	http *resty.Client
}

// NewClient creates a catalog client with sensible defaults.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// getJSON issues a GET and decodes the body, mapping transport and
// status failures onto the playback error taxonomy so callers can
// decide whether to retry.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.http.R().SetContext(ctx).Get(path)
	if err != nil {
		return media.Errorf(media.KindNetwork, "catalog request failed: %w", err)
	}

	if err := classifyStatus(resp); err != nil {
		return err
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return media.Errorf(media.KindUnavailable, "catalog response malformed: %w", err)
	}
	return nil
}

// classifyStatus maps HTTP status codes onto error kinds. 429 carries
// the server's Retry-After hint when present.
func classifyStatus(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case resp.IsSuccess():
		return nil
	case code == http.StatusTooManyRequests:
		perr := &media.PlaybackError{
			Kind: media.KindRateLimited,
			Err:  fmt.Errorf("catalog returned status %d", code),
		}
		if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil && secs > 0 {
			perr.RetryAfter = time.Duration(secs) * time.Second
		}
		return perr
	case code == http.StatusForbidden || code == http.StatusGone:
		return media.Errorf(media.KindExpired, "catalog returned status %d", code)
	case code == http.StatusNotFound:
		return media.Errorf(media.KindUnavailable, "catalog returned status %d", code)
	case code >= 500:
		return media.Errorf(media.KindNetwork, "catalog returned status %d", code)
	default:
		return media.Errorf(media.KindUnavailable, "catalog returned status %d: %s", code, resp.Status())
	}
}
