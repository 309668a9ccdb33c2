package console

import (
	"context"

	"github.com/guseggert/opsbot/internal/relay"
)

// sessionChannel is the destination channel of one request on a session.
type sessionChannel struct {
	session   *session
	requestID string
}

func (c *sessionChannel) Send(ctx context.Context, text string) error {
	return c.session.write(ctx, Message{RequestID: c.requestID, Text: text})
}

func (c *sessionChannel) SendPrompt(ctx context.Context, p relay.Prompt) error {
	return c.session.write(ctx, Message{
		RequestID: c.requestID,
		Prompt: &Prompt{
			Text:       p.Text,
			ButtonText: p.ButtonText,
			Token:      p.Data,
		},
	})
}

func (c *sessionChannel) ClearPrompt(ctx context.Context) error {
	return c.session.write(ctx, Message{RequestID: c.requestID, ClearPrompt: true})
}
