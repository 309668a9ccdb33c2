// Package config holds the process-wide configuration. It is built once at startup and not mutated afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/guseggert/opsbot/internal/access"
	"github.com/guseggert/opsbot/internal/confirm"
	"github.com/guseggert/opsbot/internal/files"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// FileName is the config file searched for upwards from the working directory when no path is given.
const FileName = "opsbot.toml"

type Config struct {
	TelegramToken    string
	AllowedIDs       string
	InfobaseName     string
	Debug            bool
	Encoding         string
	BusinessHours    confirm.Window
	SerializeActions bool
	Commands         Commands
	Console          Console
}

type Commands struct {
	Installer   []string `toml:"installer"`
	UpdateDB    []string `toml:"update_db"`
	UpdateDBDev []string `toml:"update_db_dev"`
}

type Console struct {
	ListenAddr string `toml:"listen_addr"`
	CACertFile string `toml:"ca_cert"`
	CertFile   string `toml:"cert"`
	KeyFile    string `toml:"key"`
}

func (c Console) Enabled() bool {
	return c.ListenAddr != ""
}

// file is the layout of the TOML config file. Unset keys keep their current values.
type file struct {
	TelegramToken    string          `toml:"telegram_token"`
	AllowedIDs       string          `toml:"allowed_ids"`
	InfobaseName     string          `toml:"infobase_name"`
	Debug            *bool           `toml:"debug"`
	Encoding         string          `toml:"encoding"`
	BusinessHours    *confirm.Window `toml:"business_hours"`
	SerializeActions *bool           `toml:"serialize_actions"`
	Commands         Commands        `toml:"commands"`
	Console          Console         `toml:"console"`
}

func Default() Config {
	return Config{
		Encoding:      "cp866",
		BusinessHours: confirm.DefaultWindow,
		Commands: Commands{
			Installer:   []string{"reg.bat"},
			UpdateDB:    []string{"update_db.exe"},
			UpdateDBDev: []string{"oscript", "update_db.os"},
		},
	}
}

// Find returns the path of the nearest config file at or above dir, or "" if there is none.
func Find(dir string) (string, error) {
	return files.FindUp(FileName, dir)
}

// LoadFile overlays the TOML file at path onto cfg.
func LoadFile(path string, cfg Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var f file
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config parse failed (%s): unknown keys %v", path, undecoded)
	}

	setString(&cfg.TelegramToken, f.TelegramToken)
	setString(&cfg.AllowedIDs, f.AllowedIDs)
	setString(&cfg.InfobaseName, f.InfobaseName)
	setString(&cfg.Encoding, f.Encoding)
	if f.Debug != nil {
		cfg.Debug = *f.Debug
	}
	if f.SerializeActions != nil {
		cfg.SerializeActions = *f.SerializeActions
	}
	if f.BusinessHours != nil {
		cfg.BusinessHours = *f.BusinessHours
	}
	setArgv(&cfg.Commands.Installer, f.Commands.Installer)
	setArgv(&cfg.Commands.UpdateDB, f.Commands.UpdateDB)
	setArgv(&cfg.Commands.UpdateDBDev, f.Commands.UpdateDBDev)
	setString(&cfg.Console.ListenAddr, f.Console.ListenAddr)
	setString(&cfg.Console.CACertFile, f.Console.CACertFile)
	setString(&cfg.Console.CertFile, f.Console.CertFile)
	setString(&cfg.Console.KeyFile, f.Console.KeyFile)
	return cfg, nil
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setArgv(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = append([]string(nil), v...)
	}
}

// Policy parses AllowedIDs.
func (c Config) Policy() (access.Policy, error) {
	return access.ParsePolicy(c.AllowedIDs)
}

// OutputEncoding resolves the console encoding of the wrapped executables. UTF-8 yields nil (no decoding).
func (c Config) OutputEncoding() (encoding.Encoding, error) {
	name := strings.TrimSpace(c.Encoding)
	if name == "" {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	if enc == unicode.UTF8 {
		return nil, nil
	}
	return enc, nil
}

// UpdateDBCommand is the updater command prefix for the current mode.
func (c Config) UpdateDBCommand() []string {
	if c.Debug {
		return append([]string(nil), c.Commands.UpdateDBDev...)
	}
	return append([]string(nil), c.Commands.UpdateDB...)
}

func (c Config) Validate() error {
	var errs []error
	if _, err := c.Policy(); err != nil {
		errs = append(errs, fmt.Errorf("allowed ids: %w", err))
	}
	if strings.TrimSpace(c.InfobaseName) == "" {
		errs = append(errs, errors.New("infobase name is required"))
	}
	if _, err := c.OutputEncoding(); err != nil {
		errs = append(errs, err)
	}
	if err := c.BusinessHours.Validate(); err != nil {
		errs = append(errs, err)
	}
	for name, argv := range map[string][]string{
		"installer":     c.Commands.Installer,
		"update_db":     c.Commands.UpdateDB,
		"update_db_dev": c.Commands.UpdateDBDev,
	} {
		if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
			errs = append(errs, fmt.Errorf("command %s is empty", name))
		}
	}
	if c.Console.Enabled() && (c.Console.CACertFile == "" || c.Console.CertFile == "" || c.Console.KeyFile == "") {
		errs = append(errs, errors.New("console requires ca cert, cert and key files"))
	}
	return errors.Join(errs...)
}
