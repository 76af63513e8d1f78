// Package messenger is the outbound messenger capability (spec §6): a
// narrow SendText/Broadcast interface so the notifier never depends on a
// concrete chat platform. The concrete implementation drives
// github.com/nicholas-fedor/shoutrrr the same way beszel's
// internal/alerts.SendShoutrrrAlert does, generalized from "one alert URL
// per user" to "one bot token, many per-subscriber chat ids".
package messenger

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/outagewatch/hub/internal/apperr"

	"github.com/nicholas-fedor/shoutrrr"
)

// Messenger is the capability every notifier worker dispatches through.
type Messenger interface {
	// SendText delivers text to a single chat. parseMode is a platform hint
	// ("Markdown", "HTML", "" for plain text).
	SendText(ctx context.Context, chatID, text, parseMode string) error
	// Broadcast delivers text to many chats, returning one error per input
	// chat id (nil for a successful send), same ordering as chatIDs.
	Broadcast(ctx context.Context, chatIDs []string, text, parseMode string) []error
}

// Telegram is a shoutrrr-backed Messenger speaking Telegram's Bot API via
// shoutrrr's "telegram://" scheme.
type Telegram struct {
	botToken string
}

// NewTelegram builds a Telegram messenger for the given bot token.
func NewTelegram(botToken string) *Telegram {
	return &Telegram{botToken: botToken}
}

// SendText sends one message via shoutrrr, classifying the resulting error
// per spec §6 (transient: network/5xx/429; permanent: blocked/chat-not-found).
func (t *Telegram) SendText(ctx context.Context, chatID, text, parseMode string) error {
	u := t.buildURL(chatID, parseMode)
	err := shoutrrr.Send(u, text)
	if err == nil {
		return nil
	}
	return classify(err)
}

// Broadcast sends text to every chat id, independently classifying errors.
func (t *Telegram) Broadcast(ctx context.Context, chatIDs []string, text, parseMode string) []error {
	errs := make([]error, len(chatIDs))
	for i, id := range chatIDs {
		errs[i] = t.SendText(ctx, id, text, parseMode)
	}
	return errs
}

func (t *Telegram) buildURL(chatID, parseMode string) string {
	q := url.Values{}
	q.Set("chats", chatID)
	if parseMode != "" {
		q.Set("parsemode", strings.ToLower(parseMode))
	}
	return fmt.Sprintf("telegram://%s@telegram?%s", t.botToken, q.Encode())
}

// classify maps a shoutrrr/transport error to an apperr.Kind. shoutrrr
// surfaces transport errors as plain strings, same as beszel's
// SendShoutrrrAlert treats them (log-and-return, no typed error).
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "blocked"),
		strings.Contains(msg, "chat not found"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "user is deactivated"),
		strings.Contains(msg, "403"):
		return apperr.Permanentf("messenger: permanent failure", err)
	default:
		return apperr.Transientf("messenger: transient failure", err)
	}
}
