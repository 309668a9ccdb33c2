package relay_test

import (
	"context"
	"errors"
	"testing"

	"github.com/guseggert/opsbot/internal/relay"
	"github.com/guseggert/opsbot/internal/relay/relaytest"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSendTrimsAndSkipsEmpty(t *testing.T) {
	ctx := context.Background()
	r := relay.New(zap.NewNop().Sugar())
	rec := &relaytest.Recorder{}

	r.Send(ctx, rec, "  hello \n")
	r.Send(ctx, rec, "")
	r.Send(ctx, rec, " \t\n ")
	r.Send(ctx, rec, "world")

	assert.Equal(t, []string{"hello", "world"}, rec.Messages())
}

func TestSendSwallowsDeliveryFailures(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	r := relay.New(zap.New(core).Sugar())
	rec := &relaytest.Recorder{SendErr: errors.New("chat not found")}

	assert.NotPanics(t, func() {
		r.Send(ctx, rec, "one")
		r.SendPrompt(ctx, rec, relay.Prompt{Text: "sure?", ButtonText: "yes", Data: "x"})
		r.ClearPrompt(ctx, rec)
	})

	assert.Equal(t, []string{"one"}, rec.Messages())
	assert.Len(t, rec.Prompts(), 1)
	assert.Equal(t, 1, rec.Cleared())
	assert.Equal(t, 3, logs.Len())
}

func TestNilChannel(t *testing.T) {
	var r *relay.Relay
	assert.NotPanics(t, func() {
		r.Send(context.Background(), nil, "text")
		r.ClearPrompt(context.Background(), nil)
	})
}
