package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookDriver posts events as JSON with optional HMAC-SHA256 signing.
// Failed deliveries are retried twice with backoff.
type WebhookDriver struct {
	client *resty.Client
}

// NewWebhookDriver creates the webhook driver.
func NewWebhookDriver() *WebhookDriver {
	return &WebhookDriver{
		client: resty.New().
			SetTimeout(15*time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second).
			SetRetryMaxWaitTime(4*time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= 500
			}).
			SetHeader("User-Agent", "DevopsMate-Webhook/1.0"),
	}
}

func (d *WebhookDriver) Kind() ChannelKind { return ChannelWebhook }

// Send posts the event to the channel's URL.
func (d *WebhookDriver) Send(ctx context.Context, ch *Channel, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-DevopsMate-Event", event.Type).
		SetBody(body)

	if ch.Secret != "" {
		req.SetHeader("X-DevopsMate-Signature", Sign(ch.Secret, body))
	}
	applyAuth(req, ch.Auth)

	resp, err := req.Post(ch.URL)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", ch.Name, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode(), ch.URL)
	}
	return nil
}

// Sign returns the signature header value a receiver should expect.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// applyAuth adds authentication headers based on the channel's auth config.
func applyAuth(req *resty.Request, auth map[string]string) {
	switch auth["type"] {
	case "bearer":
		if token := auth["token"]; token != "" {
			req.SetAuthToken(token)
		}
	case "api_key":
		if auth["header"] != "" && auth["key"] != "" {
			req.SetHeader(auth["header"], auth["key"])
		}
	case "basic":
		req.SetBasicAuth(auth["username"], auth["password"])
	}
}
