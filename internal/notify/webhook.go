package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/optimizer"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/logger"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/utils"
)

// Webhook posts every calibration event as JSON to a URL. Deliveries run in
// the background and are retried with backoff; Close waits for them.
type Webhook struct {
	URL        string
	Secret     string // sent as X-Calibration-Secret when set
	MaxRetries int
	Backoff    utils.BackoffStrategy
	Client     *http.Client
	Logger     *slog.Logger

	wg sync.WaitGroup
}

// NewWebhook creates a webhook retrying maxRetries times (3 when negative)
// with exponential backoff starting at one second.
func NewWebhook(url string, maxRetries int) *Webhook {
	if maxRetries < 0 {
		maxRetries = 3
	}
	return &Webhook{
		URL:        url,
		MaxRetries: maxRetries,
		Backoff:    utils.NewExponentialBackoff(time.Second, 30*time.Second, 2, nil),
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Observe implements optimizer.Observer. It returns immediately.
func (w *Webhook) Observe(ctx context.Context, ev optimizer.Event) {
	if w.URL == "" {
		return
	}
	payload := NewPayload(ev)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.Send(context.WithoutCancel(ctx), payload); err != nil {
			w.log().Error("failed to send notification after retries",
				"url", w.URL,
				"kind", payload.Kind,
				"max_retries", w.MaxRetries,
				"last_error", err)
		}
	}()
}

// Close waits for pending deliveries.
func (w *Webhook) Close() error {
	w.wg.Wait()
	return nil
}

func (w *Webhook) log() *slog.Logger { return logger.Component(w.Logger, "webhook") }

// Send posts payload, retrying failed attempts, and returns the last error
// when every attempt failed.
func (w *Webhook) Send(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}

	var lastErr error
	for attempt := 0; attempt <= w.MaxRetries; attempt++ {
		if attempt > 0 && w.Backoff != nil {
			delay := w.Backoff.NextDelay(attempt - 1)
			w.log().Debug("retrying notification", "url", w.URL, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "prms-calibration/1.0")
		if w.Secret != "" {
			req.Header.Set("X-Calibration-Secret", w.Secret)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			w.log().Warn("notification attempt failed", "url", w.URL, "attempt", attempt+1, "error", err)
			continue
		}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			w.log().Debug("notification sent", "kind", payload.Kind, "status_code", resp.StatusCode)
			return nil
		}
		lastErr = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		w.log().Warn("notification returned non-2xx status",
			"url", w.URL,
			"status_code", resp.StatusCode,
			"response_body", string(snippet),
			"attempt", attempt+1)
	}
	return lastErr
}
