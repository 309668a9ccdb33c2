package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/guseggert/opsbot/internal/access"
	"github.com/guseggert/opsbot/internal/confirm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func validConfig() Config {
	cfg := Default()
	cfg.AllowedIDs = "1,2"
	cfg.InfobaseName = "accounting"
	return cfg
}

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o644))
	return p
}

func TestDefaultsValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	enc, err := cfg.OutputEncoding()
	require.NoError(t, err)
	assert.Equal(t, charmap.CodePage866, enc)
	assert.Equal(t, []string{"update_db.exe"}, cfg.UpdateDBCommand())

	cfg.Debug = true
	assert.Equal(t, []string{"oscript", "update_db.os"}, cfg.UpdateDBCommand())
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		expErr string
	}{
		{name: "no allowed ids", mutate: func(c *Config) { c.AllowedIDs = "" }, expErr: "allowed ids"},
		{name: "no infobase", mutate: func(c *Config) { c.InfobaseName = " " }, expErr: "infobase name is required"},
		{name: "bad encoding", mutate: func(c *Config) { c.Encoding = "klingon" }, expErr: "unknown encoding"},
		{name: "bad window", mutate: func(c *Config) { c.BusinessHours = confirm.Window{After: 30, Before: 2} }, expErr: "business hours"},
		{name: "empty installer", mutate: func(c *Config) { c.Commands.Installer = nil }, expErr: "command installer is empty"},
		{name: "console without certs", mutate: func(c *Config) { c.Console.ListenAddr = ":8443" }, expErr: "console requires"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := validConfig()
			c.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), c.expErr)
		})
	}
}

func TestOutputEncoding(t *testing.T) {
	for name, exp := range map[string]interface{}{
		"cp866":        charmap.CodePage866,
		"IBM866":       charmap.CodePage866,
		"windows-1251": charmap.Windows1251,
		"cp1251":       charmap.Windows1251,
	} {
		cfg := validConfig()
		cfg.Encoding = name
		enc, err := cfg.OutputEncoding()
		require.NoError(t, err, name)
		assert.Equal(t, exp, enc, name)
	}
	for _, name := range []string{"", "utf-8", "UTF8"} {
		cfg := validConfig()
		cfg.Encoding = name
		enc, err := cfg.OutputEncoding()
		require.NoError(t, err, name)
		assert.Nil(t, enc, name)
	}
}

func TestLoadFile(t *testing.T) {
	p := writeFile(t, `
allowed_ids = "all"
infobase_name = "trade"
encoding = "windows-1251"
serialize_actions = true

[business_hours]
after = 7
before = 22

[commands]
installer = ["C:\\tools\\reg.bat"]

[console]
listen_addr = "0.0.0.0:8443"
ca_cert = "ca.pem"
cert = "server.pem"
key = "server-key.pem"
`)
	cfg, err := LoadFile(p, Default())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "trade", cfg.InfobaseName)
	assert.True(t, cfg.SerializeActions)
	assert.False(t, cfg.Debug)
	assert.Equal(t, confirm.Window{After: 7, Before: 22}, cfg.BusinessHours)
	assert.Equal(t, []string{`C:\tools\reg.bat`}, cfg.Commands.Installer)
	assert.Equal(t, []string{"update_db.exe"}, cfg.Commands.UpdateDB, "unset keys keep defaults")
	assert.True(t, cfg.Console.Enabled())

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.True(t, policy.Authorize(access.Identity("anyone")))
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"), Default())
	assert.ErrorContains(t, err, "config load failed")

	_, err = LoadFile(writeFile(t, "infobase_name = "), Default())
	assert.ErrorContains(t, err, "config parse failed")

	_, err = LoadFile(writeFile(t, "infobase = \"typo\""), Default())
	assert.ErrorContains(t, err, "unknown keys")
}

func TestFind(t *testing.T) {
	p := writeFile(t, "")
	nested := filepath.Join(filepath.Dir(p), "x", "y")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, p, found)
}
