// Package telegram delivers notifications through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"retention-notifier/internal/channel"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	defaultTimeout = 10 * time.Second
)

// Client sends messages via sendMessage, or sendPhoto when the message carries media.
type Client struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
	limiter    *rate.Limiter
}

// NewClient returns a client for the bot token. ratePerSecond <= 0 disables client-side limiting;
// timeout <= 0 uses the default.
func NewClient(token, baseURL string, ratePerSecond float64, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &Client{
		Token:      token,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send delivers msg. 4xx responses other than 429 wrap channel.ErrPermanent; 429, 5xx and
// transport errors are returned as transient.
func (c *Client) Send(ctx context.Context, msg channel.Message) error {
	if c.Token == "" {
		return fmt.Errorf("%w: telegram: bot token not configured", channel.ErrPermanent)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: rate limit wait: %w", err)
	}

	method, body := "sendMessage", map[string]interface{}{
		"chat_id": msg.UserID,
		"text":    msg.Text,
	}
	if msg.MediaURL != "" {
		method, body = "sendPhoto", map[string]interface{}{
			"chat_id": msg.UserID,
			"photo":   msg.MediaURL,
			"caption": msg.Text,
		}
	}
	if len(msg.Buttons) > 0 {
		body["reply_markup"] = keyboard(msg.Buttons)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/bot"+c.Token+"/"+method, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, redact(err, c.Token))
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out apiResponse
	_ = json.Unmarshal(b, &out)
	if resp.StatusCode == http.StatusOK && out.OK {
		return nil
	}
	desc := out.Description
	if desc == "" {
		desc = strings.TrimSpace(string(b))
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%w: telegram: %s status=%d: %s", channel.ErrPermanent, method, resp.StatusCode, desc)
	}
	return fmt.Errorf("telegram: %s status=%d: %s", method, resp.StatusCode, desc)
}

func keyboard(rows [][]channel.Button) replyMarkup {
	out := replyMarkup{InlineKeyboard: make([][]inlineButton, 0, len(rows))}
	for _, row := range rows {
		r := make([]inlineButton, 0, len(row))
		for _, b := range row {
			r = append(r, inlineButton{Text: b.Text, CallbackData: b.CallbackData, URL: b.URL})
		}
		out.InlineKeyboard = append(out.InlineKeyboard, r)
	}
	return out
}

// redact strips the bot token from transport errors, which embed the request URL.
func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<token>"))
}
