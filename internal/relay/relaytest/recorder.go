// Package relaytest provides an in-memory relay.Channel for tests.
package relaytest

import (
	"context"
	"sync"

	"github.com/guseggert/opsbot/internal/relay"
)

// Recorder records everything sent to it. SendErr, when set, is returned from every call after recording.
type Recorder struct {
	SendErr error

	mut      sync.Mutex
	messages []string
	prompts  []relay.Prompt
	cleared  int
}

func (r *Recorder) Send(ctx context.Context, text string) error {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.messages = append(r.messages, text)
	return r.SendErr
}

func (r *Recorder) SendPrompt(ctx context.Context, p relay.Prompt) error {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.prompts = append(r.prompts, p)
	return r.SendErr
}

func (r *Recorder) ClearPrompt(ctx context.Context) error {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.cleared++
	return r.SendErr
}

func (r *Recorder) Messages() []string {
	r.mut.Lock()
	defer r.mut.Unlock()
	return append([]string(nil), r.messages...)
}

func (r *Recorder) Prompts() []relay.Prompt {
	r.mut.Lock()
	defer r.mut.Unlock()
	return append([]relay.Prompt(nil), r.prompts...)
}

func (r *Recorder) Cleared() int {
	r.mut.Lock()
	defer r.mut.Unlock()
	return r.cleared
}
