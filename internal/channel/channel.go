// Package channel defines the outbound notification channel used by the dispatch worker.
package channel

import (
	"context"
	"errors"
	"log"
)

// ErrPermanent marks a send failure that retrying cannot fix (blocked bot, unknown chat, bad request).
var ErrPermanent = errors.New("channel: permanent failure")

// Button is one inline keyboard button. Exactly one of CallbackData and URL is set.
type Button struct {
	Text         string
	CallbackData string
	URL          string
}

// Message is a rendered notification addressed to one user.
type Message struct {
	UserID   int64
	Text     string
	MediaURL string     // sent as a photo with Text as caption when set
	Buttons  [][]Button // rows of buttons
}

// Channel delivers messages to users.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// IsPermanent reports whether err is a permanent send failure.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// LogChannel writes messages to the process log instead of delivering them. Used when no bot token is configured.
type LogChannel struct{}

// Send logs msg and never fails.
func (LogChannel) Send(ctx context.Context, msg Message) error {
	log.Printf("channel: (log only) user=%d media=%t buttons=%d text=%q", msg.UserID, msg.MediaURL != "", len(msg.Buttons), msg.Text)
	return nil
}
