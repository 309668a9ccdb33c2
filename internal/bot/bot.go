// Package bot assembles the dispatcher and its collaborators from the configuration.
package bot

import (
	"fmt"
	"time"

	"github.com/guseggert/opsbot/internal/config"
	"github.com/guseggert/opsbot/internal/confirm"
	"github.com/guseggert/opsbot/internal/dispatch"
	"github.com/guseggert/opsbot/internal/process"
	"github.com/guseggert/opsbot/internal/relay"
	"go.uber.org/zap"
)

// TelegramCallbackLimit is the maximum size of Telegram inline button callback data.
const TelegramCallbackLimit = 64

type options struct {
	clock  func() time.Time
	runner dispatch.Runner
}

type Option func(o *options)

// WithClock replaces the wall clock used by the confirmation gate.
func WithClock(f func() time.Time) Option {
	return func(o *options) {
		o.clock = f
	}
}

// WithRunner replaces the process streamer.
func WithRunner(r dispatch.Runner) Option {
	return func(o *options) {
		o.runner = r
	}
}

// NewDispatcher builds the dispatcher for cfg with the regras and updatedb operations registered.
func NewDispatcher(cfg config.Config, log *zap.SugaredLogger, opts ...Option) (*dispatch.Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	enc, err := cfg.OutputEncoding()
	if err != nil {
		return nil, err
	}

	r := relay.New(log)
	ops := []dispatch.Operation{
		dispatch.Regras(cfg.Commands.Installer),
		dispatch.UpdateDB(cfg.UpdateDBCommand(), cfg.InfobaseName, cfg.Debug),
	}
	codec := confirm.NewCodec(dispatch.Actions(ops...), confirm.WithMaxLen(TelegramCallbackLimit))
	gate := confirm.NewGate(codec, r,
		confirm.WithLogger(log),
		confirm.WithClock(o.clock),
		confirm.WithWindow(cfg.BusinessHours),
		confirm.WithOverride(cfg.Debug),
	)

	runner := o.runner
	if runner == nil {
		runner = process.NewStreamer(r, process.WithLogger(log), process.WithEncoding(enc))
	}

	log.Infow("dispatcher configured",
		"Policy", policy.String(),
		"Infobase", cfg.InfobaseName,
		"Debug", cfg.Debug,
		"Encoding", cfg.Encoding,
		"SerializeActions", cfg.SerializeActions,
	)

	return dispatch.New(policy, gate, runner, r,
		dispatch.WithLogger(log),
		dispatch.WithOperations(ops...),
		dispatch.WithSerializedActions(cfg.SerializeActions),
	), nil
}
