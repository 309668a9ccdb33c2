package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/guseggert/opsbot/internal/bot"
	"github.com/guseggert/opsbot/internal/config"
	"github.com/guseggert/opsbot/internal/transport/console"
	"github.com/guseggert/opsbot/internal/transport/telegram"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %s", err)
	}

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "opsbot",
		Usage: "run infobase administration commands on this host for authorized operators",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the TOML config file. Defaults to the nearest " + config.FileName + " at or above the working directory.",
				EnvVars: []string{"OPSBOT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "telegram-token",
				Usage:   "The Telegram bot token. The Telegram adapter is disabled if empty.",
				EnvVars: []string{"TELEGRAM_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "infobase-name",
				Usage:   "The infobase the update command operates on.",
				EnvVars: []string{"INFOBASE_NAME"},
			},
			&cli.StringFlag{
				Name:    "allowed-ids",
				Usage:   `Operator ids allowed to run commands, separated by commas, or "all".`,
				EnvVars: []string{"ALLOWED_IDS"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Dev mode: use the script updater and skip business-hours confirmation.",
				EnvVars: []string{"DEBUG", "Debug"},
			},
			&cli.StringFlag{
				Name:    "encoding",
				Usage:   "Console encoding of the wrapped commands' output.",
				EnvVars: []string{"OPSBOT_ENCODING"},
			},
			&cli.IntFlag{
				Name:    "poll-timeout",
				Usage:   "Telegram long polling timeout in seconds.",
				Value:   60,
				EnvVars: []string{"OPSBOT_POLL_TIMEOUT"},
			},
			&cli.DurationFlag{
				Name:    "write-timeout",
				Usage:   "How long a single console message write may take before the session is dropped.",
				Value:   10 * time.Second,
				EnvVars: []string{"OPSBOT_WRITE_TIMEOUT"},
			},
			&cli.StringFlag{
				Name:    "listen-addr",
				Usage:   "The address for the operator console to listen on. The console is disabled if empty.",
				EnvVars: []string{"OPSBOT_LISTEN_ADDR"},
			},
			&cli.StringFlag{
				Name:    "ca-cert",
				Usage:   "Path to the CA cert PEM that operator client certs are verified against.",
				EnvVars: []string{"OPSBOT_CA_CERT"},
			},
			&cli.StringFlag{
				Name:    "cert",
				Usage:   "Path to the console server cert PEM.",
				EnvVars: []string{"OPSBOT_CERT"},
			},
			&cli.StringFlag{
				Name:    "key",
				Usage:   "Path to the console server key PEM.",
				EnvVars: []string{"OPSBOT_KEY"},
			},
		},
		Action: run,
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()

	path := c.String("config")
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return config.Config{}, fmt.Errorf("getting working dir: %w", err)
		}
		path, err = config.Find(wd)
		if err != nil {
			return config.Config{}, fmt.Errorf("finding config file: %w", err)
		}
	}
	if path != "" {
		var err error
		cfg, err = config.LoadFile(path, cfg)
		if err != nil {
			return config.Config{}, err
		}
	}

	if c.IsSet("telegram-token") {
		cfg.TelegramToken = c.String("telegram-token")
	}
	if c.IsSet("infobase-name") {
		cfg.InfobaseName = c.String("infobase-name")
	}
	if c.IsSet("allowed-ids") {
		cfg.AllowedIDs = c.String("allowed-ids")
	}
	if c.IsSet("debug") {
		cfg.Debug = c.Bool("debug")
	}
	if c.IsSet("encoding") {
		cfg.Encoding = c.String("encoding")
	}
	if c.IsSet("listen-addr") {
		cfg.Console.ListenAddr = c.String("listen-addr")
	}
	if c.IsSet("ca-cert") {
		cfg.Console.CACertFile = c.String("ca-cert")
	}
	if c.IsSet("cert") {
		cfg.Console.CertFile = c.String("cert")
	}
	if c.IsSet("key") {
		cfg.Console.KeyFile = c.String("key")
	}
	return cfg, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.TelegramToken == "" && !cfg.Console.Enabled() {
		return errors.New("nothing to serve: set a Telegram token or a console listen address")
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	dispatcher, err := bot.NewDispatcher(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	group, ctx := errgroup.WithContext(ctx)

	if cfg.TelegramToken != "" {
		if err := tgbotapi.SetLogger(&telegram.LogAdapter{SugaredLogger: log.Named("tgbotapi")}); err != nil {
			return err
		}
		api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			return fmt.Errorf("connecting to Telegram: %w", err)
		}
		log.Infow("authorized on Telegram", "Account", api.Self.UserName)
		adapter := telegram.New(api, dispatcher,
			telegram.WithLogger(log),
			telegram.WithPollTimeout(c.Int("poll-timeout")),
		)
		group.Go(func() error {
			defer stop()
			return adapter.Run(ctx)
		})
	}

	if cfg.Console.Enabled() {
		server, err := newConsoleServer(cfg.Console, dispatcher, logger, c.Duration("write-timeout"))
		if err != nil {
			return err
		}
		group.Go(func() error {
			defer stop()
			return server.Run()
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err = group.Wait()
	log.Info("stopped")
	return err
}

func newConsoleServer(cfg config.Console, d console.Dispatcher, logger *zap.Logger, writeTimeout time.Duration) (*console.Server, error) {
	caCertPEM, err := os.ReadFile(cfg.CACertFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA cert: %w", err)
	}
	certPEM, err := os.ReadFile(cfg.CertFile)
	if err != nil {
		return nil, fmt.Errorf("reading server cert: %w", err)
	}
	keyPEM, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading server key: %w", err)
	}
	return console.NewServer(d, caCertPEM, certPEM, keyPEM,
		console.WithListenAddr(cfg.ListenAddr),
		console.WithLogger(logger),
		console.WithWriteTimeout(writeTimeout),
	)
}
