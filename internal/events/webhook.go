package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
)

// WebhookConfig describes a single webhook binding. A portal backend uses
// these to learn which clients were just sent to the landing page.
type WebhookConfig struct {
	Name         string
	Events       []string
	URL          string
	Method       string
	Headers      map[string]string
	Retries      int
	RetryBackoff time.Duration
	Secret       string // HMAC-SHA256 signing key
}

// WebhookSender posts events to webhook endpoints.
type WebhookSender struct {
	client *http.Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewWebhookSender creates a sender sharing one HTTP client.
func NewWebhookSender(timeout time.Duration, logger *slog.Logger) *WebhookSender {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Send delivers an event in the background. Cancelling ctx does not abort
// the delivery; the client timeout bounds each attempt.
func (w *WebhookSender) Send(ctx context.Context, cfg WebhookConfig, evt Event) {
	ctx = context.WithoutCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.deliver(ctx, cfg, evt); err != nil {
			w.logger.Error("webhook delivery failed",
				"hook_name", cfg.Name,
				"url", cfg.URL,
				"event", string(evt.Type),
				"error", err)
		}
	}()
}

// deliver posts the event, retrying with exponential backoff.
func (w *WebhookSender) deliver(ctx context.Context, cfg WebhookConfig, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	attempts := cfg.Retries
	if attempts <= 0 {
		attempts = 1
	}
	backoff := cfg.RetryBackoff
	if backoff == 0 {
		backoff = time.Second
	}

	return retry.Do(
		func() error { return w.doRequest(ctx, cfg, method, body) },
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(backoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			w.logger.Warn("webhook delivery failed, retrying",
				"hook_name", cfg.Name,
				"attempt", n+1,
				"max_attempts", attempts,
				"error", err)
		}),
	)
}

// doRequest performs a single HTTP request.
func (w *WebhookSender) doRequest(ctx context.Context, cfg WebhookConfig, method string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("creating request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "captive-dhcpd")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.Secret != "" {
		req.Header.Set("X-Captive-Signature", "sha256="+computeHMAC(body, cfg.Secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request to %s: %w", cfg.URL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	// The receiver rejected the payload; sending it again will not help.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Unrecoverable(err)
	}
	return err
}

// computeHMAC computes HMAC-SHA256 of the payload.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Wait blocks until all pending webhooks complete.
func (w *WebhookSender) Wait() {
	w.wg.Wait()
}
