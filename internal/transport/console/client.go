package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Client is an operator console client. Each Run opens its own session.
type Client struct {
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client

	baseURL                  string
	wsClient                 *http.Client
	customizeRetryableClient func(*retryablehttp.Client)

	waitInterval time.Duration
}

type ClientOption func(c *Client)

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("console_client").Sugar()
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// Result is how a request run through the console finished.
type Result struct {
	State    string
	Outcome  string
	ExitCode int
	// Prompt is set when the request is waiting for confirmation.
	Prompt *Prompt
}

// NewClient constructs a client for the server at addr (host:port).
func NewClient(log *zap.SugaredLogger, caCertPEM, certPEM, keyPEM []byte, addr string, opts ...ClientOption) (*Client, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parsing server address %q: %w", addr, err)
	}

	dialer := &net.Dialer{Timeout: 5 * time.Second}

	// Always dial addr, whatever host the URL names. The URL host is the name the
	// server cert is issued for, so it is what TLS verifies.
	dialCtx := func(ctx context.Context, network, _ string) (net.Conn, error) {
		return dialer.DialContext(ctx, "tcp", addr)
	}

	tlsConfig, err := ClientTLSConfig(caCertPEM, certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("building client TLS config: %w", err)
	}

	c := &Client{
		Logger:       log.Named("console_client"),
		baseURL:      fmt.Sprintf("https://%s:%s", ServerName, port),
		waitInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}

	transport := &http.Transport{
		DialContext:     dialCtx,
		TLSClientConfig: tlsConfig,
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = &http.Client{Transport: transport}
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 10 * time.Millisecond
	}
	retryClient.RetryMax = 10
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}

	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}

	c.HTTPClient = retryClient.StandardClient()
	// The WebSocket handshake is not retried.
	c.wsClient = &http.Client{Transport: transport}

	return c, nil
}

func (c *Client) SendHeartbeat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/heartbeat", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Close = true

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected heartbeat status code %d", resp.StatusCode)
	}
	var body struct{ Status string }
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding heartbeat: %w", err)
	}
	if body.Status != "ok" {
		return fmt.Errorf("unexpected heartbeat status %q", body.Status)
	}
	return nil
}

func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := c.SendHeartbeat(ctx)
			if err == nil {
				c.Logger.Debug("heartbeat succeeded, done waiting for server")
				return nil
			}
			c.Logger.Debugf("got heartbeat error: %s", err)
		}
	}
}

// Run sends req over a new session and writes every text message to out, one per line,
// until the server reports the request done.
func (c *Client) Run(ctx context.Context, req Request, out io.Writer) (*Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	u := c.baseURL + "/session"
	c.Logger.Debugw("dialing WebSocket", "URL", u, "RequestID", req.ID)
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPClient: c.wsClient})
	if err != nil {
		return nil, fmt.Errorf("dialing WebSocket conn: %w", err)
	}
	defer conn.Close(websocket.StatusInternalError, "")

	if err := wsjson.Write(ctx, conn, req); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	res := &Result{}
	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return nil, fmt.Errorf("reading message: %w", err)
		}
		if msg.RequestID != req.ID {
			c.Logger.Debugw("ignoring message for another request", "RequestID", msg.RequestID)
			continue
		}
		switch {
		case msg.Done:
			res.State = msg.State
			res.Outcome = msg.Outcome
			res.ExitCode = msg.ExitCode
			conn.Close(websocket.StatusNormalClosure, "")
			return res, nil
		case msg.Prompt != nil:
			res.Prompt = msg.Prompt
			if _, err := fmt.Fprintln(out, msg.Prompt.Text); err != nil {
				return nil, fmt.Errorf("writing output: %w", err)
			}
		case msg.ClearPrompt:
			res.Prompt = nil
		case msg.Text != "":
			if _, err := fmt.Fprintln(out, msg.Text); err != nil {
				return nil, fmt.Errorf("writing output: %w", err)
			}
		}
	}
}

// Confirm resends a prompted request with its confirmation token.
func (c *Client) Confirm(ctx context.Context, token string, out io.Writer) (*Result, error) {
	if token == "" {
		return nil, errors.New("empty confirmation token")
	}
	return c.Run(ctx, Request{Token: token}, out)
}
