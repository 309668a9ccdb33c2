// Package confirm gates risky operations behind an explicit confirmation round-trip.
package confirm

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	ErrMalformedToken = errors.New("confirm: malformed token")
	ErrUnknownAction  = errors.New("confirm: unknown action")
	ErrTokenTooLong   = errors.New("confirm: token too long")
)

// Token is an action plus its positional arguments, carried through a confirmation prompt.
type Token struct {
	Action string
	Args   []string
}

// Action declares an action name and the exact number of arguments its tokens carry.
type Action struct {
	Name  string
	Arity int
}

// Codec encodes and decodes tokens for a fixed set of actions.
// The wire form is the action name followed by the arguments, separated by single spaces.
type Codec struct {
	actions map[string]int
	maxLen  int
}

type CodecOption func(c *Codec)

// WithMaxLen bounds the encoded length in bytes, e.g. 64 for Telegram callback data.
func WithMaxLen(n int) CodecOption {
	return func(c *Codec) {
		c.maxLen = n
	}
}

func NewCodec(actions []Action, opts ...CodecOption) *Codec {
	c := &Codec{actions: make(map[string]int, len(actions))}
	for _, a := range actions {
		c.actions[a.Name] = a.Arity
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Codec) validate(t Token) error {
	arity, ok := c.actions[t.Action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, t.Action)
	}
	if len(t.Args) != arity {
		return fmt.Errorf("%w: action %q takes %d arguments, got %d", ErrMalformedToken, t.Action, arity, len(t.Args))
	}
	for i, a := range t.Args {
		if a == "" || strings.IndexFunc(a, unicode.IsSpace) >= 0 {
			return fmt.Errorf("%w: argument %d is empty or contains whitespace", ErrMalformedToken, i)
		}
	}
	return nil
}

// Encode renders t. Arguments that could not be recovered exactly by Decode are rejected.
func (c *Codec) Encode(t Token) (string, error) {
	if err := c.validate(t); err != nil {
		return "", err
	}
	s := strings.Join(append([]string{t.Action}, t.Args...), " ")
	if c.maxLen > 0 && len(s) > c.maxLen {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrTokenTooLong, len(s), c.maxLen)
	}
	return s, nil
}

// Decode parses s strictly: unknown actions, wrong arity and non-canonical spacing are all rejected.
func (c *Codec) Decode(s string) (Token, error) {
	if s == "" {
		return Token{}, fmt.Errorf("%w: empty", ErrMalformedToken)
	}
	parts := strings.Split(s, " ")
	for _, p := range parts {
		if p == "" || strings.IndexFunc(p, unicode.IsSpace) >= 0 {
			return Token{}, fmt.Errorf("%w: non-canonical spacing", ErrMalformedToken)
		}
	}
	t := Token{Action: parts[0], Args: parts[1:]}
	if err := c.validate(t); err != nil {
		return Token{}, err
	}
	return t, nil
}
