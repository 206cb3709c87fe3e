package outlook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
)

// defaultBaseURL is the Microsoft Graph v1.0 root.
const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// Client is a thin HTTP client for the Microsoft Graph mail API. It
// handles Bearer authentication, JSON marshaling, and automatic retry
// with backoff on HTTP 429. The access token is passed per request so
// the refresh protocol can swap it between attempts without mutating
// client state.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

// NewClient creates a Graph client. An empty baseURL selects the
// production Graph endpoint; tests point it at a fake server.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: 3,
	}
}

// Get performs an HTTP GET request and unmarshals the JSON response.
func (c *Client) Get(ctx context.Context, token, path string, result interface{}) error {
	return c.do(ctx, token, http.MethodGet, path, nil, result)
}

// Post performs an HTTP POST request with a JSON body and unmarshals
// the JSON response when there is one.
func (c *Client) Post(ctx context.Context, token, path string, body, result interface{}) error {
	return c.do(ctx, token, http.MethodPost, path, body, result)
}

// Patch performs an HTTP PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, token, path string, body, result interface{}) error {
	return c.do(ctx, token, http.MethodPatch, path, body, result)
}

// do is the core HTTP method that builds the request, handles auth,
// rate limiting with backoff, and JSON (de)serialization. Failures are
// classified into the shared provider error taxonomy.
func (c *Client) do(
	ctx context.Context,
	token string,
	method string,
	path string,
	body interface{},
	result interface{},
) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		// Rebuild the body reader on retries since it was consumed.
		if attempt > 0 && body != nil {
			data, _ := json.Marshal(body)
			bodyReader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &provider.ProviderError{
				Provider: model.ProviderOutlook,
				Status:   "transport",
				Message:  fmt.Sprintf("executing %s %s: %v", method, path, err),
			}
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			waitDuration := retryAfterDuration(resp, attempt)
			lastErr = &provider.ProviderError{
				Provider: model.ProviderOutlook,
				Status:   "429",
				Message:  fmt.Sprintf("rate limited on %s %s", method, path),
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		if resp.StatusCode == http.StatusUnauthorized {
			return &provider.UnauthorizedError{
				Provider: model.ProviderOutlook,
				Message:  graphErrorMessage(respBody, "access token rejected"),
			}
		}

		if resp.StatusCode == http.StatusNotFound {
			return &provider.NotFoundError{
				Provider: model.ProviderOutlook,
				ID:       messageIDFromPath(path),
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &provider.ProviderError{
				Provider: model.ProviderOutlook,
				Status:   strconv.Itoa(resp.StatusCode),
				Message:  graphErrorMessage(respBody, string(respBody)),
			}
		}

		// No content to parse (202 Accepted from /send, 204 from PATCH).
		if result == nil || len(respBody) == 0 ||
			resp.StatusCode == http.StatusNoContent ||
			resp.StatusCode == http.StatusAccepted {
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
		}

		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// messageIDFromPath recovers the message id from a request path like
// /me/messages/{id}/attachments, so a 404 names the message rather
// than the raw URL. Paths without a message segment come back as-is.
func messageIDFromPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if seg == "messages" && i+1 < len(segments) {
			if id, err := url.PathUnescape(segments[i+1]); err == nil {
				return id
			}
			return segments[i+1]
		}
	}
	return path
}

// graphErrorMessage extracts the Graph error message body, falling back
// to the given default.
func graphErrorMessage(body []byte, fallback string) string {
	var parsed graphErrorResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return fallback
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
