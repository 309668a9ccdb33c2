package bot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guseggert/opsbot/internal/config"
	"github.com/guseggert/opsbot/internal/dispatch"
	"github.com/guseggert/opsbot/internal/process"
	"github.com/guseggert/opsbot/internal/relay/relaytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// writeScript writes an executable shell script that echoes its arguments and exits with code.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

func at(hour int) func() time.Time {
	return func() time.Time { return time.Date(2024, 1, 10, hour, 0, 0, 0, time.Local) }
}

func TestNewDispatcherEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.AllowedIDs = "42"
	cfg.InfobaseName = "accounting"
	cfg.Encoding = "utf-8"
	cfg.Commands.Installer = []string{writeScript(t, dir, "reg.sh", `echo "installing $1"`)}
	cfg.Commands.UpdateDB = []string{writeScript(t, dir, "update_db.sh", `echo "base=$1 user=$2"; echo "upgrade failed" 1>&2; exit 2`)}

	d, err := NewDispatcher(cfg, zap.NewNop().Sugar(), WithClock(at(12)))
	require.NoError(t, err)

	t.Run("regras runs the installer", func(t *testing.T) {
		rec := &relaytest.Recorder{}
		res := d.Dispatch(context.Background(), dispatch.Request{Identity: "42", Operation: "regras", Args: []string{"8.3.24"}, Channel: rec})
		require.NotNil(t, res.Outcome)
		assert.Equal(t, process.Success, res.Outcome.Kind)
		assert.Equal(t, []string{
			"🔄 Установка RAS для версии 8.3.24...",
			"▸ installing 8.3.24",
			"✅ Готово!",
		}, rec.Messages())
	})

	t.Run("updatedb prompts at noon then runs on confirmation", func(t *testing.T) {
		rec := &relaytest.Recorder{}
		res := d.Dispatch(context.Background(), dispatch.Request{Identity: "42", Operation: "updatedb", Args: []string{"alice", "s3cr3t"}, Channel: rec})
		assert.Equal(t, dispatch.ConfirmationPending, res.Via)
		require.Len(t, rec.Prompts(), 1)

		token := rec.Prompts()[0].Data
		res = d.Dispatch(context.Background(), dispatch.Request{Identity: "42", Operation: "updatedb", Token: token, Channel: rec})
		require.NotNil(t, res.Outcome)
		assert.Equal(t, process.NonZeroExit, res.Outcome.Kind)
		assert.Equal(t, 2, res.Outcome.ExitCode)
		assert.Equal(t, []string{
			"🔄 Обновление базы...",
			"▸ base=accounting user=alice",
			"▸ upgrade failed",
			"❌ Завершено с ошибкой (код: 2)",
		}, rec.Messages())
		assert.Equal(t, 1, rec.Cleared())
	})

	t.Run("stranger is denied", func(t *testing.T) {
		rec := &relaytest.Recorder{}
		res := d.Dispatch(context.Background(), dispatch.Request{Identity: "7", Operation: "regras", Args: []string{"8.3.24"}, Channel: rec})
		assert.Equal(t, dispatch.Authorizing, res.Via)
		assert.Equal(t, []string{dispatch.DeniedText}, rec.Messages())
	})
}

func TestDebugSkipsGate(t *testing.T) {
	cfg := config.Default()
	cfg.AllowedIDs = "all"
	cfg.InfobaseName = "accounting"
	cfg.Debug = true
	cfg.Commands.UpdateDBDev = []string{"definitely-missing-oscript-9b2", "update_db.os"}

	d, err := NewDispatcher(cfg, zap.NewNop().Sugar(), WithClock(at(12)))
	require.NoError(t, err)

	rec := &relaytest.Recorder{}
	res := d.Dispatch(context.Background(), dispatch.Request{Identity: "1", Operation: "updatedb", Args: []string{"alice", "s3cr3t"}, Channel: rec})
	require.NotNil(t, res.Outcome)
	assert.Equal(t, process.SpawnFailed, res.Outcome.Kind)
	assert.Equal(t, []string{
		"🔄 Обновление базы (dev)...",
		"❌ Команда не найдена: definitely-missing-oscript-9b2",
	}, rec.Messages())
}

func TestInvalidConfig(t *testing.T) {
	_, err := NewDispatcher(config.Default(), zap.NewNop().Sugar())
	assert.ErrorContains(t, err, "invalid config")
}
