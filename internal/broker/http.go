package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	publishPath        = "/api/v5/publish"
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBody       = 4 << 10
)

// HTTPConfig configures the broker's REST publish API.
type HTTPConfig struct {
	URL       string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// HTTPPublisher publishes through the broker's management REST API.
type HTTPPublisher struct {
	endpoint string
	key      string
	secret   string
	client   *http.Client
}

// NewHTTPPublisher returns a publisher for cfg. A nil client gets a
// default one with cfg.Timeout.
func NewHTTPPublisher(cfg HTTPConfig, client *http.Client) *HTTPPublisher {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPPublisher{
		endpoint: strings.TrimSuffix(cfg.URL, "/") + publishPath,
		key:      cfg.APIKey,
		secret:   cfg.APISecret,
		client:   client,
	}
}

type publishRequest struct {
	Topic           string `json:"topic"`
	Payload         string `json:"payload"`
	PayloadEncoding string `json:"payload_encoding"`
	QoS             byte   `json:"qos"`
	Retain          bool   `json:"retain"`
}

// Publish implements Publisher.
func (p *HTTPPublisher) Publish(ctx context.Context, msg Message) (Status, error) {
	body, err := json.Marshal(publishRequest{
		Topic:           msg.Topic,
		Payload:         string(msg.Payload),
		PayloadEncoding: "plain",
		QoS:             msg.QoS,
		Retain:          msg.Retain,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: encoding request: %w", ErrDeliveryFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: building request: %w", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(p.key, p.secret)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
		return StatusDelivered, nil
	case http.StatusAccepted:
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
		return StatusNoSubscribers, nil
	case http.StatusBadRequest:
		return 0, fmt.Errorf("%w: %s", ErrBadRequest, readErrorBody(resp.Body))
	default:
		return 0, fmt.Errorf("%w: status %d: %s", ErrDeliveryFailed, resp.StatusCode, readErrorBody(resp.Body))
	}
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody)) //nolint:errcheck // best effort detail
	return strings.TrimSpace(string(b))
}
