// Package telegram connects the dispatcher to a Telegram bot through long polling.
package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/guseggert/opsbot/internal/access"
	"github.com/guseggert/opsbot/internal/dispatch"
	"go.uber.org/zap"
)

// BotAPI is the subset of *tgbotapi.BotAPI the adapter uses.
type BotAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.Result
}

type Adapter struct {
	log         *zap.SugaredLogger
	bot         BotAPI
	dispatcher  Dispatcher
	pollTimeout int

	stopOnce sync.Once
	handlers sync.WaitGroup
}

type Option func(a *Adapter)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(a *Adapter) {
		a.log = l.Named("telegram")
	}
}

// WithPollTimeout sets the long polling timeout in seconds.
func WithPollTimeout(seconds int) Option {
	return func(a *Adapter) {
		a.pollTimeout = seconds
	}
}

func New(bot BotAPI, d Dispatcher, opts ...Option) *Adapter {
	a := &Adapter{
		log:         zap.NewNop().Sugar(),
		bot:         bot,
		dispatcher:  d,
		pollTimeout: 60,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run polls for updates and handles each on its own goroutine until ctx is done.
// It returns once every in-flight handler has finished.
func (a *Adapter) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = a.pollTimeout
	updates := a.bot.GetUpdatesChan(u)

	defer a.handlers.Wait()
	a.log.Infow("polling for updates", "Timeout", a.pollTimeout)
	for {
		select {
		case <-ctx.Done():
			a.stop()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			a.handlers.Add(1)
			go func() {
				defer a.handlers.Done()
				a.handle(ctx, update)
			}()
		}
	}
}

func (a *Adapter) stop() {
	a.stopOnce.Do(func() {
		a.log.Info("stopping update polling")
		a.bot.StopReceivingUpdates()
	})
}

func (a *Adapter) handle(ctx context.Context, update tgbotapi.Update) {
	req, ok := a.request(update)
	if !ok {
		return
	}
	res := a.dispatcher.Dispatch(ctx, req)
	a.log.Debugw("update handled", "UpdateID", update.UpdateID, "RequestID", req.ID, "State", res.Via.String())
}

// request maps an update to a dispatcher request. Updates that are neither commands
// nor confirmation callbacks are ignored.
func (a *Adapter) request(update tgbotapi.Update) (dispatch.Request, bool) {
	switch {
	case update.Message != nil:
		msg := update.Message
		if !msg.IsCommand() || msg.From == nil || msg.Chat == nil {
			return dispatch.Request{}, false
		}
		return dispatch.Request{
			Identity:  identity(msg.From),
			Operation: msg.Command(),
			Args:      strings.Fields(msg.CommandArguments()),
			Channel:   &chatChannel{bot: a.bot, chatID: msg.Chat.ID},
		}, true

	case update.CallbackQuery != nil:
		q := update.CallbackQuery
		if !strings.HasPrefix(q.Data, dispatch.UpdateDBAction) || q.From == nil || q.Message == nil || q.Message.Chat == nil {
			return dispatch.Request{}, false
		}
		if _, err := a.bot.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
			a.log.Warnw("error answering callback query", "Error", err)
		}
		return dispatch.Request{
			Identity:  identity(q.From),
			Operation: dispatch.UpdateDBName,
			Token:     q.Data,
			Channel: &chatChannel{
				bot:             a.bot,
				chatID:          q.Message.Chat.ID,
				promptMessageID: q.Message.MessageID,
			},
		}, true
	}
	return dispatch.Request{}, false
}

func identity(u *tgbotapi.User) access.Identity {
	return access.Identity(strconv.FormatInt(u.ID, 10))
}

// LogAdapter routes the library's update loop logging into zap.
type LogAdapter struct {
	*zap.SugaredLogger
}

func (l *LogAdapter) Println(v ...interface{})               { l.Warn(v...) }
func (l *LogAdapter) Printf(format string, v ...interface{}) { l.Warnf(format, v...) }
