package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cointop10/cointop10-websocket/internal/models"
)

// SubscriberHeader carries the subscriber identity on forwarded candles.
const SubscriberHeader = "X-Subscriber-Id"

// WebhookSink forwards candles as JSON POSTs to a fixed endpoint. It is
// the default implementation of the stream.Sink contract: accepts a
// candle+subscriber pair, may fail, never blocks other deliveries.
type WebhookSink struct {
	endpoint string
	client   *http.Client
	logger   *logrus.Logger
}

func NewWebhookSink(endpoint string, timeout time.Duration, logger *logrus.Logger) *WebhookSink {
	return &WebhookSink{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Deliver POSTs the JSON-encoded candle tagged with the subscriber
// identity. A non-2xx response is a failure.
func (s *WebhookSink) Deliver(ctx context.Context, candle models.Candle, subscriberID string) error {
	body, err := json.Marshal(candle)
	if err != nil {
		return fmt.Errorf("encode candle: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SubscriberHeader, subscriberID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post candle: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}
