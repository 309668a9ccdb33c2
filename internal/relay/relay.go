// Package relay delivers text to a caller's destination channel on a best-effort basis.
package relay

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Prompt is an interactive message with a single confirmation button.
// Data is the opaque payload the messaging platform hands back when the button is pressed.
type Prompt struct {
	Text       string
	ButtonText string
	Data       string
}

// Channel is the destination of one request's messages.
// It is bound to a single request and never shared across requests.
type Channel interface {
	Send(ctx context.Context, text string) error
	SendPrompt(ctx context.Context, p Prompt) error
	// ClearPrompt removes the interactive controls of the prompt that started this request, if any.
	ClearPrompt(ctx context.Context) error
}

// Relay wraps Channel calls so that delivery faults are logged and swallowed.
// Message delivery must never abort the operation it reports on.
type Relay struct {
	Log *zap.SugaredLogger
}

func New(log *zap.SugaredLogger) *Relay {
	return &Relay{Log: log.Named("relay")}
}

// Send trims text and delivers it. Text that is empty after trimming is never sent.
func (r *Relay) Send(ctx context.Context, ch Channel, text string) {
	text = strings.TrimSpace(text)
	if ch == nil || text == "" {
		return
	}
	if err := ch.Send(ctx, text); err != nil {
		r.log().Warnw("error delivering message", "Error", err, "Text", text)
	}
}

func (r *Relay) SendPrompt(ctx context.Context, ch Channel, p Prompt) {
	if ch == nil || strings.TrimSpace(p.Text) == "" {
		return
	}
	if err := ch.SendPrompt(ctx, p); err != nil {
		r.log().Warnw("error delivering prompt", "Error", err)
	}
}

func (r *Relay) ClearPrompt(ctx context.Context, ch Channel) {
	if ch == nil {
		return
	}
	if err := ch.ClearPrompt(ctx); err != nil {
		r.log().Warnw("error clearing prompt", "Error", err)
	}
}

func (r *Relay) log() *zap.SugaredLogger {
	if r == nil || r.Log == nil {
		return zap.NewNop().Sugar()
	}
	return r.Log
}
