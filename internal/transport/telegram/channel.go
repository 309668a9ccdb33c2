package telegram

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/guseggert/opsbot/internal/relay"
)

// chatChannel sends a request's messages to the chat it came from.
// promptMessageID is the message holding the confirmation button that started the request, if any.
type chatChannel struct {
	bot             BotAPI
	chatID          int64
	promptMessageID int
}

func (c *chatChannel) Send(ctx context.Context, text string) error {
	if _, err := c.bot.Send(tgbotapi.NewMessage(c.chatID, text)); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

func (c *chatChannel) SendPrompt(ctx context.Context, p relay.Prompt) error {
	msg := tgbotapi.NewMessage(c.chatID, p.Text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(p.ButtonText, p.Data)),
	)
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("sending prompt: %w", err)
	}
	return nil
}

func (c *chatChannel) ClearPrompt(ctx context.Context) error {
	if c.promptMessageID == 0 {
		return errors.New("no prompt message to clear")
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(c.chatID, c.promptMessageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	if _, err := c.bot.Request(edit); err != nil {
		return fmt.Errorf("clearing prompt markup: %w", err)
	}
	return nil
}
