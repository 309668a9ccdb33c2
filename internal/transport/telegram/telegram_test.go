package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/guseggert/opsbot/internal/access"
	"github.com/guseggert/opsbot/internal/dispatch"
	"github.com/guseggert/opsbot/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBot struct {
	updates chan tgbotapi.Update
	sendErr error
	config  tgbotapi.UpdateConfig

	mut      sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	stops    int
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan tgbotapi.Update)}
}

func (b *fakeBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	b.mut.Lock()
	defer b.mut.Unlock()
	b.config = config
	return b.updates
}

func (b *fakeBot) StopReceivingUpdates() {
	b.mut.Lock()
	defer b.mut.Unlock()
	b.stops++
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.sendErr != nil {
		return tgbotapi.Message{}, b.sendErr
	}
	b.sent = append(b.sent, c)
	return tgbotapi.Message{MessageID: len(b.sent)}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mut.Lock()
	defer b.mut.Unlock()
	b.requests = append(b.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) Sent() []tgbotapi.Chattable {
	b.mut.Lock()
	defer b.mut.Unlock()
	return append([]tgbotapi.Chattable(nil), b.sent...)
}

func (b *fakeBot) Requests() []tgbotapi.Chattable {
	b.mut.Lock()
	defer b.mut.Unlock()
	return append([]tgbotapi.Chattable(nil), b.requests...)
}

type fakeDispatcher struct {
	reqs chan dispatch.Request
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, req dispatch.Request) dispatch.Result {
	d.reqs <- req
	return dispatch.Result{Via: dispatch.Reporting}
}

func command(updateID int, from, chat int64, text, cmd string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: updateID,
		Message: &tgbotapi.Message{
			MessageID: updateID,
			From:      &tgbotapi.User{ID: from},
			Chat:      &tgbotapi.Chat{ID: chat},
			Text:      text,
			Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
		},
	}
}

func callback(updateID int, from, chat int64, messageID int, data string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: updateID,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb-1",
			From: &tgbotapi.User{ID: from},
			Message: &tgbotapi.Message{
				MessageID: messageID,
				Chat:      &tgbotapi.Chat{ID: chat},
			},
			Data: data,
		},
	}
}

func receive(t *testing.T, reqs <-chan dispatch.Request) dispatch.Request {
	t.Helper()
	select {
	case req := <-reqs:
		return req
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dispatch")
		return dispatch.Request{}
	}
}

func TestUpdatesMapToRequests(t *testing.T) {
	bot := newFakeBot()
	d := &fakeDispatcher{reqs: make(chan dispatch.Request, 10)}
	adapter := New(bot, d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- adapter.Run(ctx) }()

	bot.updates <- command(1, 42, 7, "/regras 8.3.22", "/regras")
	req := receive(t, d.reqs)
	assert.Equal(t, access.Identity("42"), req.Identity)
	assert.Equal(t, dispatch.RegrasName, req.Operation)
	assert.Equal(t, []string{"8.3.22"}, req.Args)
	assert.Empty(t, req.Token)
	require.IsType(t, &chatChannel{}, req.Channel)
	assert.Equal(t, int64(7), req.Channel.(*chatChannel).chatID)

	bot.updates <- command(2, 42, 7, "/updatedb@opsbot  alice   pw ", "/updatedb@opsbot")
	req = receive(t, d.reqs)
	assert.Equal(t, dispatch.UpdateDBName, req.Operation)
	assert.Equal(t, []string{"alice", "pw"}, req.Args)

	// ignored: plain text and foreign callbacks
	bot.updates <- tgbotapi.Update{UpdateID: 3, Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 42},
		Chat: &tgbotapi.Chat{ID: 7},
		Text: "hello",
	}}
	bot.updates <- callback(4, 42, 7, 10, "something_else")

	bot.updates <- callback(5, 43, 7, 11, "update_db alice pw")
	req = receive(t, d.reqs)
	assert.Equal(t, access.Identity("43"), req.Identity)
	assert.Equal(t, dispatch.UpdateDBName, req.Operation)
	assert.Equal(t, "update_db alice pw", req.Token)
	assert.Equal(t, 11, req.Channel.(*chatChannel).promptMessageID)

	cancel()
	require.NoError(t, <-done)

	assert.Empty(t, d.reqs)
	require.Len(t, bot.Requests(), 1)
	ack, ok := bot.Requests()[0].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	assert.Equal(t, "cb-1", ack.CallbackQueryID)
	assert.Equal(t, 1, bot.stops)
}

func TestRunReturnsWhenUpdatesClose(t *testing.T) {
	bot := newFakeBot()
	adapter := New(bot, &fakeDispatcher{reqs: make(chan dispatch.Request, 1)})
	close(bot.updates)
	require.NoError(t, adapter.Run(context.Background()))
	assert.Equal(t, 0, bot.stops)
	assert.Equal(t, 60, bot.config.Timeout)
}

func TestPollTimeout(t *testing.T) {
	bot := newFakeBot()
	adapter := New(bot, &fakeDispatcher{reqs: make(chan dispatch.Request, 1)}, WithPollTimeout(5))
	close(bot.updates)
	require.NoError(t, adapter.Run(context.Background()))
	assert.Equal(t, 5, bot.config.Timeout)
}

func TestChatChannel(t *testing.T) {
	ctx := context.Background()
	bot := newFakeBot()
	ch := &chatChannel{bot: bot, chatID: 7, promptMessageID: 11}

	require.NoError(t, ch.Send(ctx, "▸ line"))
	require.NoError(t, ch.SendPrompt(ctx, relay.Prompt{Text: "sure?", ButtonText: "yes", Data: "update_db a b"}))
	require.NoError(t, ch.ClearPrompt(ctx))

	sent := bot.Sent()
	require.Len(t, sent, 2)

	msg := sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, int64(7), msg.ChatID)
	assert.Equal(t, "▸ line", msg.Text)
	assert.Nil(t, msg.ReplyMarkup)

	prompt := sent[1].(tgbotapi.MessageConfig)
	assert.Equal(t, "sure?", prompt.Text)
	markup, ok := prompt.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 1)
	button := markup.InlineKeyboard[0][0]
	assert.Equal(t, "yes", button.Text)
	require.NotNil(t, button.CallbackData)
	assert.Equal(t, "update_db a b", *button.CallbackData)

	require.Len(t, bot.Requests(), 1)
	edit := bot.Requests()[0].(tgbotapi.EditMessageReplyMarkupConfig)
	assert.Equal(t, int64(7), edit.ChatID)
	assert.Equal(t, 11, edit.MessageID)
	require.NotNil(t, edit.ReplyMarkup)
	assert.Empty(t, edit.ReplyMarkup.InlineKeyboard)
}

func TestChatChannelErrors(t *testing.T) {
	ctx := context.Background()
	bot := newFakeBot()
	bot.sendErr = errors.New("forbidden: bot was blocked by the user")

	ch := &chatChannel{bot: bot, chatID: 7}
	assert.ErrorIs(t, ch.Send(ctx, "x"), bot.sendErr)
	assert.ErrorIs(t, ch.SendPrompt(ctx, relay.Prompt{Text: "sure?"}), bot.sendErr)
	assert.Error(t, ch.ClearPrompt(ctx))
	assert.Empty(t, bot.Requests())
}
