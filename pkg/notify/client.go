// Package notify delivers finalized transcript fragments to the agent-tips
// webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/harunnryd/callscribe/pkg/errorsx"
	"github.com/harunnryd/callscribe/pkg/logging"
)

const (
	DefaultURLTemplate  = "https://power-dialer-pro-bc2ca247.base44.app/api/apps/{app_id}/functions/generateAgentTips"
	DefaultAPIKeyHeader = "api_key"

	appIDPlaceholder = "{app_id}"
	maxLoggedBody    = 2048
)

// ErrStatus is wrapped for non-2xx webhook responses.
var ErrStatus = errors.New("unexpected webhook status")

// Notification is the webhook body.
type Notification struct {
	Transcript          string `json:"transcript"`
	CallSID             string `json:"callSid"`
	ClientID            string `json:"clientId"`
	Speaker             string `json:"speaker"`
	ConversationHistory string `json:"conversationHistory"`
}

// Target holds the per-call destination and credential.
type Target struct {
	AppID  string
	APIKey string
}

type Sender interface {
	Send(ctx context.Context, target Target, n Notification) error
}

type Client struct {
	URLTemplate  string
	APIKeyHeader string
	HTTP         *http.Client
	Logger       *slog.Logger
}

// URL renders the endpoint for one app id.
func (c *Client) URL(appID string) string {
	tmpl := c.URLTemplate
	if tmpl == "" {
		tmpl = DefaultURLTemplate
	}
	return strings.ReplaceAll(tmpl, appIDPlaceholder, url.PathEscape(appID))
}

// Send posts one notification. The response is read only for logging.
func (c *Client) Send(ctx context.Context, target Target, n Notification) error {
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	logger := c.Logger
	if logger == nil {
		logger = logging.NewComponentLogger(slog.Default(), "notify")
	}
	header := c.APIKeyHeader
	if header == "" {
		header = DefaultAPIKeyHeader
	}

	body, err := json.Marshal(n)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonNotifyRequest)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(target.AppID), bytes.NewReader(body))
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonNotifyRequest)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(header, target.APIKey)

	res, err := hc.Do(req)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("post webhook: %w", err), errorsx.ReasonNotifyRequest)
	}
	defer res.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(res.Body, maxLoggedBody))
	logger.Debug("notify_response",
		slog.String("call_sid", n.CallSID),
		slog.Int("status", res.StatusCode),
		slog.String("body", string(respBody)))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return errorsx.Wrap(fmt.Errorf("%w: %d", ErrStatus, res.StatusCode), errorsx.ReasonNotifyStatus)
	}
	return nil
}

var _ Sender = (*Client)(nil)
