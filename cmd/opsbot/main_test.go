package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guseggert/opsbot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func clearEnv(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), config.FileName)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func runApp(t *testing.T, args ...string) (config.Config, *cli.Context) {
	t.Helper()
	app := newApp()
	var (
		cfg config.Config
		ctx *cli.Context
	)
	app.Action = func(c *cli.Context) error {
		var err error
		cfg, err = loadConfig(c)
		ctx = c
		return err
	}
	require.NoError(t, app.Run(append([]string{"opsbot"}, args...)))
	return cfg, ctx
}

func TestDebugEnvVarNames(t *testing.T) {
	path := writeConfig(t, `infobase_name = "accounting"`)
	for _, name := range []string{"DEBUG", "Debug"} {
		t.Run(name, func(t *testing.T) {
			clearEnv(t, "DEBUG", "Debug")
			t.Setenv(name, "true")
			cfg, _ := runApp(t, "--config", path)
			assert.True(t, cfg.Debug)
		})
	}

	t.Run("unset", func(t *testing.T) {
		clearEnv(t, "DEBUG", "Debug")
		cfg, _ := runApp(t, "--config", path)
		assert.False(t, cfg.Debug)
	})
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	clearEnv(t, "DEBUG", "Debug", "INFOBASE_NAME", "ALLOWED_IDS", "OPSBOT_POLL_TIMEOUT", "OPSBOT_WRITE_TIMEOUT")
	path := writeConfig(t, "infobase_name = \"accounting\"\nallowed_ids = \"1,2\"\n")

	cfg, c := runApp(t, "--config", path, "--infobase-name", "payroll")
	assert.Equal(t, "payroll", cfg.InfobaseName)
	assert.Equal(t, "1,2", cfg.AllowedIDs)
	assert.Equal(t, 60, c.Int("poll-timeout"))
	assert.Equal(t, 10*time.Second, c.Duration("write-timeout"))

	_, c = runApp(t, "--config", path, "--poll-timeout", "5", "--write-timeout", "2s")
	assert.Equal(t, 5, c.Int("poll-timeout"))
	assert.Equal(t, 2*time.Second, c.Duration("write-timeout"))
}
