// Package amplitude sends analytics events to the Amplitude HTTP V2 API.
package amplitude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"retention-notifier/internal/telemetry/domain"
)

const (
	defaultURL     = "https://api2.amplitude.com/2/httpapi"
	defaultTimeout = 3 * time.Second
)

// Client implements telemetry.EventEmitter for Amplitude.
type Client struct {
	APIKey     string
	URL        string
	HTTPClient *http.Client
}

// NewClient returns a client for apiKey, or nil when apiKey is empty.
func NewClient(apiKey, url string) *Client {
	if apiKey == "" {
		return nil
	}
	if url == "" {
		url = defaultURL
	}
	return &Client{
		APIKey:     apiKey,
		URL:        url,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

type event struct {
	UserID          string         `json:"user_id"`
	EventType       string         `json:"event_type"`
	EventProperties map[string]any `json:"event_properties"`
	Time            int64          `json:"time"`
	InsertID        string         `json:"insert_id"`
}

type request struct {
	APIKey string  `json:"api_key"`
	Events []event `json:"events"`
}

// Emit posts a single event. insert_id is a fresh UUID so Amplitude can drop retried duplicates.
func (c *Client) Emit(ctx context.Context, e *domain.Event) error {
	if c == nil || e == nil {
		return nil
	}
	props := make(map[string]any, len(e.Properties)+1)
	for k, v := range e.Properties {
		props[k] = v
	}
	if e.SessionID != "" {
		props["session_id"] = e.SessionID
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	raw, err := json.Marshal(request{
		APIKey: c.APIKey,
		Events: []event{{
			UserID:          strconv.FormatInt(e.UserID, 10),
			EventType:       e.Name,
			EventProperties: props,
			Time:            created.UnixMilli(),
			InsertID:        uuid.NewString(),
		}},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("amplitude: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
