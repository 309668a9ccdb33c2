package dispatch

import (
	"fmt"

	"github.com/guseggert/opsbot/internal/access"
	"github.com/guseggert/opsbot/internal/process"
	"github.com/guseggert/opsbot/internal/relay"
)

const (
	DeniedText = "🚫 Доступ запрещен."
	FaultText  = "Произошла ошибка. Пожалуйста, попробуйте позже."
)

// State is a step of the per-request state machine.
type State int

const (
	Received State = iota
	Authorizing
	ValidatingArgs
	ConfirmationPending
	Executing
	Reporting
	Done
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case Authorizing:
		return "authorizing"
	case ValidatingArgs:
		return "validating_args"
	case ConfirmationPending:
		return "confirmation_pending"
	case Executing:
		return "executing"
	case Reporting:
		return "reporting"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Request is one inbound operation invocation.
// Token is set when the request comes back from a confirmation prompt; Args are then ignored.
type Request struct {
	ID        string
	Identity  access.Identity
	Operation string
	Args      []string
	Token     string
	Channel   relay.Channel
}

// Result reports how a request reached Done.
// Via is the state Done was entered from: Authorizing (denied), ValidatingArgs (usage or fault),
// ConfirmationPending (prompted) or Reporting (executed). A recovered panic leaves Via at the state
// it happened in. Outcome is set only when Via is Reporting.
type Result struct {
	Via     State
	Outcome *process.Outcome
}

// Operation is a protected operation the dispatcher can run.
type Operation struct {
	Name  string
	Usage string
	Arity int
	// Action is the confirmation action name. Operations with an Action are gated; others run directly.
	Action  string
	Command func(args []string) process.Spec
}

func (o Operation) risky() bool { return o.Action != "" }
