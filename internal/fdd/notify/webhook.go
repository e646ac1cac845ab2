package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const defaultWebhookTimeout = 10 * time.Second

// Message is one alarm notification. Text is the rendered template; the other fields let
// receivers route on equipment, rule and state without parsing it.
type Message struct {
	Event         string    `json:"event"`
	EquipmentID   string    `json:"equipment_id"`
	EquipmentName string    `json:"equipment_name,omitempty"`
	RuleID        string    `json:"rule_id"`
	RuleName      string    `json:"rule_name,omitempty"`
	State         string    `json:"state"`
	At            time.Time `json:"at"`
	ReportURL     string    `json:"report_url,omitempty"`
	Text          string    `json:"text"`
}

// Channel delivers notifications.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// WebhookChannel posts each Message as JSON to an HTTP endpoint.
type WebhookChannel struct {
	url     string
	client  *http.Client
	headers http.Header
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithTimeout bounds each delivery.
func WithTimeout(timeout time.Duration) WebhookOption {
	return func(ch *WebhookChannel) {
		if timeout > 0 {
			ch.client = &http.Client{Timeout: timeout}
		}
	}
}

// WithHeader adds a request header, e.g. an authorization token of the receiver.
func WithHeader(key, value string) WebhookOption {
	return func(ch *WebhookChannel) {
		if key != "" {
			ch.headers.Set(key, value)
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("fdd webhook: empty url")
	}
	channel := &WebhookChannel{
		url:     url,
		client:  &http.Client{Timeout: defaultWebhookTimeout},
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send posts msg. Any status outside 2xx is an error.
func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	if w == nil || w.url == "" {
		return errors.New("fdd webhook: empty url")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("fdd webhook: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for key, values := range w.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-FDD-Event", msg.Event)
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("fdd webhook: post %s: %w", msg.RuleID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fdd webhook: %s %s answered %d", msg.EquipmentID, msg.RuleID, resp.StatusCode)
	}
	return nil
}
