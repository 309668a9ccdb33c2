package process

import (
	"fmt"
	"strings"
)

// Spec is an immutable command line plus the human-readable description used for the starting banner.
type Spec struct {
	argv        []string
	description string
	secret      map[int]bool
}

// NewSpec builds a Spec. The argv slice is copied.
func NewSpec(description string, argv ...string) Spec {
	return Spec{
		argv:        append([]string(nil), argv...),
		description: description,
	}
}

// WithSecret returns a copy of the spec in which the arguments at the given argv indexes are masked by String.
func (s Spec) WithSecret(idx ...int) Spec {
	secret := make(map[int]bool, len(s.secret)+len(idx))
	for k, v := range s.secret {
		secret[k] = v
	}
	for _, i := range idx {
		secret[i] = true
	}
	s.secret = secret
	return s
}

func (s Spec) Executable() string {
	if len(s.argv) == 0 {
		return ""
	}
	return s.argv[0]
}

func (s Spec) Args() []string {
	if len(s.argv) < 2 {
		return nil
	}
	return append([]string(nil), s.argv[1:]...)
}

func (s Spec) Argv() []string { return append([]string(nil), s.argv...) }

func (s Spec) Description() string { return s.description }

// String renders the command line for logs, with secret arguments masked.
func (s Spec) String() string {
	parts := make([]string, len(s.argv))
	for i, a := range s.argv {
		if s.secret[i] {
			parts[i] = "***"
			continue
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}

type Kind int

const (
	Success Kind = iota
	NonZeroExit
	SpawnFailed
	UnexpectedFault
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case NonZeroExit:
		return "non_zero_exit"
	case SpawnFailed:
		return "spawn_failed"
	case UnexpectedFault:
		return "unexpected_fault"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the terminal classification of one execution.
// ExitCode is only meaningful for NonZeroExit; Err is set for SpawnFailed and UnexpectedFault.
type Outcome struct {
	Kind     Kind
	ExitCode int
	Err      error
}

func (o Outcome) String() string {
	switch o.Kind {
	case NonZeroExit:
		return fmt.Sprintf("%s(%d)", o.Kind, o.ExitCode)
	case SpawnFailed, UnexpectedFault:
		return fmt.Sprintf("%s(%s)", o.Kind, o.Err)
	default:
		return o.Kind.String()
	}
}

func startingBanner(description string) string {
	return fmt.Sprintf("🔄 %s...", description)
}

func lineMessage(line string) string {
	return "▸ " + line
}

// Banner renders the terminal message for an outcome of running spec.
func Banner(o Outcome, spec Spec) string {
	switch o.Kind {
	case Success:
		return "✅ Готово!"
	case NonZeroExit:
		return fmt.Sprintf("❌ Завершено с ошибкой (код: %d)", o.ExitCode)
	case SpawnFailed:
		return fmt.Sprintf("❌ Команда не найдена: %s", spec.Executable())
	default:
		detail := "unknown error"
		if o.Err != nil {
			detail = o.Err.Error()
		}
		return fmt.Sprintf("❌ Неожиданная ошибка: %s", detail)
	}
}
