package confirm

import (
	"context"
	"fmt"
	"time"

	"github.com/guseggert/opsbot/internal/relay"
	"go.uber.org/zap"
)

const (
	PromptText = "😱Кажется сейчас разгар рабочего дня. Точно обновляем?😱"
	ButtonText = "⚠️⚠️Обновить базу⚠️⚠️"
)

type Decision int

const (
	Proceed Decision = iota
	Prompt
)

func (d Decision) String() string {
	if d == Prompt {
		return "prompt"
	}
	return "proceed"
}

// Window is the business-hours window, exclusive on both ends: After < hour < Before.
type Window struct {
	After  int `toml:"after"`
	Before int `toml:"before"`
}

var DefaultWindow = Window{After: 8, Before: 21}

func (w Window) Contains(t time.Time) bool {
	h := t.Hour()
	return h > w.After && h < w.Before
}

func (w Window) Validate() error {
	if w.After < 0 || w.After > 23 || w.Before < 0 || w.Before > 24 {
		return fmt.Errorf("business hours (%d, %d) out of range", w.After, w.Before)
	}
	return nil
}

// Gate decides whether a risky operation runs now or asks the caller to confirm first.
// The time check is a safety net against accidents, not an authorization boundary.
type Gate struct {
	Log      *zap.SugaredLogger
	Relay    *relay.Relay
	Codec    *Codec
	Window   Window
	Clock    func() time.Time
	Override bool
}

type GateOption func(g *Gate)

func WithClock(f func() time.Time) GateOption {
	return func(g *Gate) {
		g.Clock = f
	}
}

func WithWindow(w Window) GateOption {
	return func(g *Gate) {
		g.Window = w
	}
}

// WithOverride makes the gate always proceed, e.g. in debug mode.
func WithOverride(b bool) GateOption {
	return func(g *Gate) {
		g.Override = b
	}
}

func WithLogger(l *zap.SugaredLogger) GateOption {
	return func(g *Gate) {
		g.Log = l.Named("gate")
	}
}

func NewGate(codec *Codec, r *relay.Relay, opts ...GateOption) *Gate {
	g := &Gate{
		Log:    zap.NewNop().Sugar(),
		Relay:  r,
		Codec:  codec,
		Window: DefaultWindow,
		Clock:  time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Check returns Proceed if the request is already confirmed, the gate is overridden, or the local time is outside the window.
// Otherwise it sends a prompt carrying the encoded token and returns Prompt.
// An error is returned only if the token can't be encoded, in which case nothing is sent.
func (g *Gate) Check(ctx context.Context, ch relay.Channel, t Token, confirmed bool) (Decision, error) {
	if confirmed || g.Override {
		return Proceed, nil
	}
	now := g.Clock()
	if !g.Window.Contains(now) {
		return Proceed, nil
	}
	data, err := g.Codec.Encode(t)
	if err != nil {
		return Prompt, fmt.Errorf("encoding confirmation token: %w", err)
	}
	g.Log.Infow("business hours, asking for confirmation", "Action", t.Action, "Hour", now.Hour())
	g.Relay.SendPrompt(ctx, ch, relay.Prompt{
		Text:       PromptText,
		ButtonText: ButtonText,
		Data:       data,
	})
	return Prompt, nil
}
