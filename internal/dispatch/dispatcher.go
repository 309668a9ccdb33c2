// Package dispatch is the per-request entry point: it authorizes the caller, validates arguments,
// consults the confirmation gate, runs the command and reports the result.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/guseggert/opsbot/internal/access"
	"github.com/guseggert/opsbot/internal/confirm"
	"github.com/guseggert/opsbot/internal/process"
	"github.com/guseggert/opsbot/internal/relay"
	"go.uber.org/zap"
)

// Runner runs a command and relays its progress.
type Runner interface {
	Run(ctx context.Context, ch relay.Channel, spec process.Spec) process.Outcome
}

type Dispatcher struct {
	log    *zap.SugaredLogger
	guard  access.Guard
	gate   *confirm.Gate
	codec  *confirm.Codec
	runner Runner
	relay  *relay.Relay

	ops map[string]Operation

	serialize bool
	locksMut  sync.Mutex
	locks     map[string]*sync.Mutex
}

type Option func(d *Dispatcher)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(d *Dispatcher) {
		d.log = l.Named("dispatcher")
	}
}

// WithSerializedActions makes executions of the same confirmation action run one at a time.
func WithSerializedActions(b bool) Option {
	return func(d *Dispatcher) {
		d.serialize = b
	}
}

func WithOperations(ops ...Operation) Option {
	return func(d *Dispatcher) {
		for _, op := range ops {
			d.ops[op.Name] = op
		}
	}
}

func New(guard access.Guard, gate *confirm.Gate, runner Runner, r *relay.Relay, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:    zap.NewNop().Sugar(),
		guard:  guard,
		gate:   gate,
		codec:  gate.Codec,
		runner: runner,
		relay:  r,
		ops:    map[string]Operation{},
		locks:  map[string]*sync.Mutex{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Handles reports whether name is a registered operation.
func (d *Dispatcher) Handles(name string) bool {
	_, ok := d.ops[name]
	return ok
}

// Dispatch processes one request through to Done. Faults never escape: a panic is recovered,
// logged, and reported to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (res Result) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	log := d.log.With("RequestID", req.ID, "Operation", req.Operation, "Identity", req.Identity)

	state := Received
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("panic handling request", "Panic", r, "State", state.String())
			d.relay.Send(context.WithoutCancel(ctx), req.Channel, FaultText)
			res = Result{Via: state}
		}
	}()

	op, ok := d.lookup(req)
	if !ok {
		log.Debugw("ignoring unknown operation")
		return Result{Via: Received}
	}

	state = Authorizing
	if !d.guard.Authorize(req.Identity) {
		log.Infow("access denied")
		d.relay.Send(ctx, req.Channel, DeniedText)
		return Result{Via: Authorizing}
	}

	state = ValidatingArgs
	args, confirmed, err := d.resolveArgs(op, req)
	if err != nil {
		log.Infow("invalid arguments", "Error", err)
		d.relay.Send(ctx, req.Channel, op.Usage)
		return Result{Via: ValidatingArgs}
	}

	if op.risky() {
		decision, err := d.gate.Check(ctx, req.Channel, confirm.Token{Action: op.Action, Args: args}, confirmed)
		if err != nil {
			log.Warnw("unable to issue confirmation prompt", "Error", err)
			d.relay.Send(ctx, req.Channel, process.Banner(process.Outcome{Kind: process.UnexpectedFault, Err: err}, process.Spec{}))
			return Result{Via: ValidatingArgs}
		}
		if decision == confirm.Prompt {
			state = ConfirmationPending
			return Result{Via: ConfirmationPending}
		}
	}

	state = Executing
	spec := op.Command(args)
	log.Infow("executing", "Command", spec.String(), "Confirmed", confirmed)

	// The process runs to completion even if the caller goes away.
	runCtx := context.WithoutCancel(ctx)
	outcome := func() process.Outcome {
		defer d.lock(op)()
		return d.runner.Run(runCtx, req.Channel, spec)
	}()

	state = Reporting
	if confirmed {
		d.relay.ClearPrompt(runCtx, req.Channel)
	}
	log.Infow("finished", "Outcome", outcome.String())
	return Result{Via: Reporting, Outcome: &outcome}
}

// lookup finds the request's operation. A request that only carries a confirmation token is
// routed to the operation owning the token's action.
func (d *Dispatcher) lookup(req Request) (Operation, bool) {
	if req.Operation != "" {
		op, ok := d.ops[req.Operation]
		return op, ok
	}
	if req.Token == "" {
		return Operation{}, false
	}
	action, _, _ := strings.Cut(req.Token, " ")
	for _, op := range d.ops {
		if op.risky() && op.Action == action {
			return op, true
		}
	}
	return Operation{}, false
}

// resolveArgs takes arguments from the confirmation token when present, otherwise from the request.
func (d *Dispatcher) resolveArgs(op Operation, req Request) ([]string, bool, error) {
	if req.Token != "" {
		if !op.risky() {
			return nil, false, fmt.Errorf("operation %q takes no confirmation token", op.Name)
		}
		tok, err := d.codec.Decode(req.Token)
		if err != nil {
			return nil, false, fmt.Errorf("decoding confirmation token: %w", err)
		}
		if tok.Action != op.Action {
			return nil, false, fmt.Errorf("token action %q does not match operation %q", tok.Action, op.Name)
		}
		return tok.Args, true, nil
	}
	if len(req.Args) != op.Arity {
		return nil, false, fmt.Errorf("expected %d arguments, got %d", op.Arity, len(req.Args))
	}
	return append([]string(nil), req.Args...), false, nil
}

func (d *Dispatcher) lock(op Operation) func() {
	if !d.serialize {
		return func() {}
	}
	key := op.Action
	if key == "" {
		key = op.Name
	}
	d.locksMut.Lock()
	m, ok := d.locks[key]
	if !ok {
		m = &sync.Mutex{}
		d.locks[key] = m
	}
	d.locksMut.Unlock()
	m.Lock()
	return m.Unlock
}
