package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/guseggert/opsbot/internal/transport/console"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "opsctl",
		Usage: "operator console client for opsbot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "The console server address (host:port).",
				Value:   "127.0.0.1:8443",
				EnvVars: []string{"OPSCTL_ADDR"},
			},
			&cli.StringFlag{
				Name:    "certs-dir",
				Usage:   "Directory holding " + console.CAFile + ", " + console.ClientFile + " and " + console.ClientKeyFile + ".",
				Value:   "certs",
				EnvVars: []string{"OPSCTL_CERTS_DIR"},
			},
			&cli.DurationFlag{
				Name:  "wait",
				Usage: "How long to wait for the server to become reachable.",
				Value: 10 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log client internals to stderr.",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "run an operation and stream its output",
				ArgsUsage: "<operation> [args...]",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return errors.New("operation is required")
					}
					req := console.Request{
						Operation: c.Args().First(),
						Args:      c.Args().Tail(),
					}
					return send(c, req)
				},
			},
			{
				Name:      "confirm",
				Usage:     "confirm a prompted operation",
				ArgsUsage: "<token>",
				Action: func(c *cli.Context) error {
					token := strings.Join(c.Args().Slice(), " ")
					if token == "" {
						return errors.New("token is required")
					}
					return send(c, console.Request{Token: token})
				},
			},
			{
				Name:  "certs",
				Usage: "manage console certificates",
				Subcommands: []*cli.Command{
					{
						Name:  "init",
						Usage: "generate a CA, a server cert and a client cert",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "out", Usage: "Output directory.", Value: "certs"},
							&cli.StringFlag{Name: "client-id", Usage: "Operator id of the client cert.", Required: true},
						},
						Action: func(c *cli.Context) error {
							certs, err := console.GenerateCerts(c.String("client-id"))
							if err != nil {
								return err
							}
							if err := certs.WriteFiles(c.String("out")); err != nil {
								return err
							}
							fmt.Fprintf(c.App.Writer, "wrote certs to %s\n", c.String("out"))
							return nil
						},
					},
					{
						Name:  "issue",
						Usage: "issue another operator client cert from an existing CA",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "out", Usage: "Directory holding the CA; the new cert is written here.", Value: "certs"},
							&cli.StringFlag{Name: "client-id", Usage: "Operator id of the client cert.", Required: true},
						},
						Action: issue,
					},
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(c *cli.Context) (*console.Client, error) {
	dir := c.String("certs-dir")
	read := func(name string) ([]byte, error) {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		return b, nil
	}
	caPEM, err := read(console.CAFile)
	if err != nil {
		return nil, err
	}
	certPEM, err := read(console.ClientFile)
	if err != nil {
		return nil, err
	}
	keyPEM, err := read(console.ClientKeyFile)
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if c.Bool("verbose") {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("building logger: %w", err)
		}
	}
	return console.NewClient(logger.Sugar(), caPEM, certPEM, keyPEM, c.String("addr"))
}

func send(c *cli.Context, req console.Request) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(c.Context, c.Duration("wait"))
	defer cancel()
	if err := client.WaitForServer(waitCtx); err != nil {
		return fmt.Errorf("waiting for server: %w", err)
	}

	res, err := client.Run(c.Context, req, c.App.Writer)
	if err != nil {
		return err
	}
	if res.Prompt != nil {
		fmt.Fprintf(c.App.ErrWriter, "to confirm, run: opsctl confirm %q\n", res.Prompt.Token)
		return nil
	}
	switch res.Outcome {
	case "", "success":
		return nil
	case "non_zero_exit":
		return cli.Exit("", res.ExitCode)
	default:
		return cli.Exit("", 1)
	}
}

func issue(c *cli.Context) error {
	dir := c.String("out")
	caPEM, err := os.ReadFile(filepath.Join(dir, console.CAFile))
	if err != nil {
		return fmt.Errorf("reading CA cert: %w", err)
	}
	caKeyPEM, err := os.ReadFile(filepath.Join(dir, console.CAKeyFile))
	if err != nil {
		return fmt.Errorf("reading CA key: %w", err)
	}
	ca, err := console.LoadCA(caPEM, caKeyPEM)
	if err != nil {
		return err
	}

	id := c.String("client-id")
	cert, err := console.IssueClientCert(ca, id)
	if err != nil {
		return err
	}
	certPath := filepath.Join(dir, id+".pem")
	keyPath := filepath.Join(dir, id+"-key.pem")
	if err := os.WriteFile(certPath, cert.CertPEMBytes, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", certPath, err)
	}
	if err := os.WriteFile(keyPath, cert.KeyPEMBytes, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", keyPath, err)
	}
	fmt.Fprintf(c.App.Writer, "wrote %s and %s\n", certPath, keyPath)
	return nil
}
