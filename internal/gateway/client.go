// Package gateway talks to the chat bridge (for example a WhatsApp gateway)
// that relays patient messages to and from this service.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/clinic-intake/internal/conversation"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

const defaultUserAgent = "clinic-intake/1.0"

// Config controls the gateway client.
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	MaxRetries    int
	Backoff       time.Duration
	MaxSkew       time.Duration
	HTTPClient    *http.Client
	Logger        *logging.Logger
}

// Client sends replies through the gateway and verifies its webhooks.
type Client struct {
	apiKey        string
	baseURL       string
	webhookSecret string
	httpClient    *http.Client
	maxRetries    int
	backoff       time.Duration
	maxSkew       time.Duration
	now           func() time.Time
	logger        *logging.Logger
}

var _ conversation.Messenger = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gateway: base url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	maxSkew := cfg.MaxSkew
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		apiKey:        cfg.APIKey,
		baseURL:       baseURL,
		webhookSecret: cfg.WebhookSecret,
		httpClient:    httpClient,
		maxRetries:    maxRetries,
		backoff:       backoff,
		maxSkew:       maxSkew,
		now:           time.Now,
		logger:        logger,
	}, nil
}

type sendRequest struct {
	To       string `json:"to"`
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Filename string `json:"filename,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// SendText delivers a text message to a chat user.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("gateway: recipient required")
	}
	return c.send(ctx, sendRequest{To: to, Type: "text", Text: text})
}

// SendDocument delivers a file attachment to a chat user.
func (c *Client) SendDocument(ctx context.Context, to string, doc conversation.Document) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("gateway: recipient required")
	}
	if len(doc.Bytes) == 0 {
		return errors.New("gateway: empty document")
	}
	return c.send(ctx, sendRequest{To: to, Type: "document", Filename: doc.Filename, MIMEType: doc.MIMEType, Data: doc.Bytes})
}

func (c *Client) send(ctx context.Context, req sendRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("gateway: marshal send body: %w", err)
	}
	_, err = c.invoke(ctx, http.MethodPost, "/messages", body)
	return err
}

// DownloadMedia fetches the bytes of an inbound attachment.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) ([]byte, error) {
	if strings.TrimSpace(mediaID) == "" {
		return nil, errors.New("gateway: media id required")
	}
	return c.invoke(ctx, http.MethodGet, "/media/"+mediaID, nil)
}

// VerifyWebhookSignature checks an HMAC-SHA256 over "timestamp.payload".
func (c *Client) VerifyWebhookSignature(timestamp, signature string, payload []byte) error {
	if c.webhookSecret == "" {
		return errors.New("gateway: webhook secret not configured")
	}
	ts := strings.TrimSpace(timestamp)
	if ts == "" {
		return errors.New("gateway: missing signature timestamp")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("gateway: invalid signature timestamp: %w", err)
	}
	if diff := c.now().Sub(time.Unix(sec, 0)); diff > c.maxSkew || diff < -c.maxSkew {
		return fmt.Errorf("gateway: signature timestamp skew %s exceeds limit", diff)
	}
	actual := strings.ToLower(strings.TrimSpace(signature))
	if actual == "" {
		return errors.New("gateway: missing signature header")
	}
	if !hmac.Equal([]byte(Sign(c.webhookSecret, ts, payload)), []byte(actual)) {
		return errors.New("gateway: signature mismatch")
	}
	return nil
}

// Sign computes the webhook signature the gateway is expected to send.
func Sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("gateway: build request: %w", err)
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		req.Header.Set("User-Agent", defaultUserAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !shouldRetry(0, err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("gateway: http error: %w", err)
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("gateway: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		if attempt < c.maxRetries && shouldRetry(resp.StatusCode, nil) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("gateway: request failed without response")
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.backoff * time.Duration(1<<attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	c.logger.Warn("gateway retry", "path", path, "attempt", attempt+1, "status", status, "error", err)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("gateway: http status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("gateway: http status %d", e.StatusCode)
}
