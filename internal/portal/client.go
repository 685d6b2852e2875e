package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/prajiwaji-cpu/wealth-management-portal/internal/config"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxResponseBytes caps response body reads to prevent a misbehaving
	// server from consuming unbounded memory.
	maxResponseBytes = 1024 * 1024

	// uploadFieldName is the multipart form field the file-blob endpoint
	// reads the file from.
	uploadFieldName = "file"
)

// Client talks to the Portal API. All calls go through a single request
// path that appends the fixed feature query pair, attaches the standing
// headers, and maps failure statuses onto the package's error types.
type Client struct {
	httpClient *http.Client
	cfg        *config.Config
	auth       *AuthSession
	logger     *slog.Logger
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This prevents credentials from
// leaking to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates a Portal API client. If httpClient is nil, a client
// with a 30-second timeout and same-host redirect policy is created.
func NewClient(cfg *config.Config, auth *AuthSession, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		auth:       auth,
		logger:     logger,
	}
}

// apiURL composes {base}/api/{version}/{path}. Path is a trusted literal
// with caller-escaped ids; no further escaping happens here.
func (c *Client) apiURL(path string) string {
	return fmt.Sprintf("%s/api/%s/%s", c.cfg.BaseURL, c.cfg.APIVersion, path)
}

// withFixedParams appends the featureType/feature pair that every Portal
// request carries, continuing an existing query with & and starting one
// with ? otherwise.
func (c *Client) withFixedParams(rawURL string) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}

	return rawURL + sep +
		"featureType=" + url.QueryEscape(c.cfg.FeatureType) +
		"&feature=" + url.QueryEscape(c.cfg.FeatureKey)
}

// callSettings carries per-request behavior toggles.
type callSettings struct {
	onUnauthorized func()
}

type callOption func(*callSettings)

// withUnauthorized substitutes fn for the error path when the Portal
// answers 401: fn runs (typically filling the caller's result with a
// signed-out value) and the call returns nil instead of
// ErrAuthorizationRequired. Navigation to the authorization endpoint
// happens either way.
func withUnauthorized(fn func()) callOption {
	return func(s *callSettings) { s.onUnauthorized = fn }
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}
	// Ensure valid UTF-8 and replace control characters.
	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// failureMessage extracts the Portal's "message" field from an error
// body, falling back to the sanitized raw text when the body is not JSON
// or carries no string message.
func failureMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "message"); msg.Type == gjson.String {
		return msg.String()
	}

	return sanitizeResponseBody(body)
}

// do executes one Portal API call. Request and response bodies are JSON;
// result may be nil when the caller discards the body. Requests are
// never retried; a single failed attempt always surfaces.
func (c *Client) do(ctx context.Context, method, path string, body, result any, opts ...callOption) error {
	var settings callSettings
	for _, opt := range opts {
		opt(&settings)
	}

	var payload io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}

		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.withFixedParams(c.apiURL(path)), payload)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timezone-IANA", c.cfg.Timezone)
	req.Header.Set("X-Locale", c.cfg.Locale)

	if authz := c.auth.authorizationValue(); authz != "" {
		req.Header.Set("Authorization", authz)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	// Cap response reads at 1MB. Portal responses are small JSON payloads.
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", path, err)
	}

	c.logger.Debug("portal request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)

	if resp.StatusCode == http.StatusUnauthorized {
		if err := c.auth.beginReauthorization(); err != nil {
			return fmt.Errorf("redirecting to authorization: %w", err)
		}

		if settings.onUnauthorized != nil {
			settings.onUnauthorized()

			return nil
		}

		return fmt.Errorf("%s %s: %w", method, path, ErrAuthorizationRequired)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &RequestError{Status: resp.StatusCode, Message: failureMessage(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response from %s: %w", path, err)
		}
	}

	return nil
}

// upload sends one file to the file-blob endpoint and returns the blob
// id. Unlike do, the request is multipart and attaches only the
// Authorization header; the fixed query pair is still appended. Non-OK
// responses become an UploadError without a structured message parse.
func (c *Client) upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile(uploadFieldName, filename)
	if err != nil {
		return "", fmt.Errorf("creating multipart part: %w", err)
	}

	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("reading %s: %w", filename, err)
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalizing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.withFixedParams(c.apiURL("file-blob")), &buf)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", mw.FormDataContentType())

	if authz := c.auth.authorizationValue(); authz != "" {
		req.Header.Set("Authorization", authz)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending upload: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading upload response: %w", err)
	}

	c.logger.Debug("portal upload",
		slog.String("filename", filename),
		slog.Int("status", resp.StatusCode),
	)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &UploadError{Status: resp.StatusCode, Body: sanitizeResponseBody(respBody)}
	}

	var blobs []uploadedBlob
	if err := json.Unmarshal(respBody, &blobs); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}

	if len(blobs) == 0 || blobs[0].BlobID == "" {
		return "", fmt.Errorf("upload response contained no blob id")
	}

	return blobs[0].BlobID, nil
}
