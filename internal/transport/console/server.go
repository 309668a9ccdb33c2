package console

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/opsbot/internal/access"
	"github.com/guseggert/opsbot/internal/dispatch"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Dispatcher runs one request through to its terminal state.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.Result
}

// Server is the operator console server.
type Server struct {
	logger *zap.SugaredLogger

	dispatcher Dispatcher

	caCertPEM []byte
	certPEM   []byte
	keyPEM    []byte

	listenAddr   string
	writeTimeout time.Duration

	// sessionCtx is canceled by Shutdown and Stop. Hijacked WebSocket connections are
	// not tracked by http.Server, so session read loops watch it instead.
	sessionCtx    context.Context
	cancelSession context.CancelFunc

	mut        sync.Mutex
	httpServer *http.Server
	closed     bool
	sessions   sync.WaitGroup
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l.Named("console").Sugar()
	}
}

// WithWriteTimeout bounds each message write. A write that times out closes the session.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

// NewServer constructs a console server that authenticates clients against caCertPEM.
func NewServer(d Dispatcher, caCertPEM, certPEM, keyPEM []byte, opts ...Option) (*Server, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	s := &Server{
		logger:       logger.Named("console").Sugar(),
		dispatcher:   d,
		caCertPEM:    caCertPEM,
		certPEM:      certPEM,
		keyPEM:       keyPEM,
		listenAddr:   "0.0.0.0:8443",
		writeTimeout: 10 * time.Second,
	}
	s.sessionCtx, s.cancelSession = context.WithCancel(context.Background())
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Run listens on the configured address and serves until the server is stopped.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until the server is stopped. ln must be a plain TCP listener; TLS is layered on here.
func (s *Server) Serve(ln net.Listener) error {
	tlsConfig, err := ServerTLSConfig(s.caCertPEM, s.certPEM, s.keyPEM)
	if err != nil {
		ln.Close()
		return fmt.Errorf("building server TLS config: %w", err)
	}

	router := httprouter.New()
	router.GET("/heartbeat", s.heartbeat)
	router.GET("/session", s.session)

	server := &http.Server{Handler: router}
	s.mut.Lock()
	if s.closed {
		s.mut.Unlock()
		ln.Close()
		return nil
	}
	s.httpServer = server
	s.mut.Unlock()

	s.logger.Infow("console listening", "Addr", ln.Addr().String())
	err = server.Serve(tls.NewListener(ln, tlsConfig))
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, ends idle sessions and waits for sessions with in-flight
// requests to finish. Commands already running are never interrupted.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mut.Lock()
	s.closed = true
	server := s.httpServer
	s.mut.Unlock()
	s.cancelSession()
	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) Stop() error {
	s.cancelSession()
	s.mut.Lock()
	defer s.mut.Unlock()
	s.closed = true
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	response := struct {
		Status string
		Time   string
	}{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(response)
	if err != nil {
		s.logger.Debugf("error marshaling heartbeat response: %s", err)
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

// peerIdentity returns the common name of the verified client certificate.
func peerIdentity(r *http.Request) (access.Identity, bool) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return "", false
	}
	cn := r.TLS.PeerCertificates[0].Subject.CommonName
	if cn == "" {
		return "", false
	}
	return access.Identity(cn), true
}

func (s *Server) session(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	identity, ok := peerIdentity(r)
	if !ok {
		http.Error(w, "client certificate with a common name is required", http.StatusUnauthorized)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.logger.Debugf("error accepting WebSocket conn: %s", err)
		return
	}

	s.mut.Lock()
	if s.closed {
		s.mut.Unlock()
		wsConn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.sessions.Add(1)
	s.mut.Unlock()
	defer s.sessions.Done()

	sess := &session{
		log:          s.logger.Named("session").With("Identity", identity),
		conn:         wsConn,
		identity:     identity,
		writeTimeout: s.writeTimeout,
	}
	sess.log.Debug("accepted WebSocket conn")
	sess.run(s.sessionCtx, s.dispatcher)
}

type session struct {
	log          *zap.SugaredLogger
	conn         *websocket.Conn
	identity     access.Identity
	writeTimeout time.Duration

	writeMut      sync.Mutex
	closeConnOnce sync.Once
}

func (s *session) run(ctx context.Context, d Dispatcher) {
	var inflight sync.WaitGroup
	for {
		var req Request
		err := wsjson.Read(ctx, s.conn, &req)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			s.log.Debug("got normal closure from client, wrapping up")
			break
		}
		if ctx.Err() != nil {
			s.log.Debug("server shutting down, ending session")
			s.close(websocket.StatusGoingAway, "server shutting down")
			break
		}
		if err != nil {
			s.log.Debugf("message reader got error: %s", err)
			s.close(websocket.StatusInternalError, err.Error())
			break
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		inflight.Add(1)
		go func(req Request) {
			defer inflight.Done()
			// requests outlive the read loop so that a shutdown never interrupts them
			s.dispatch(context.WithoutCancel(ctx), d, req)
		}(req)
	}
	inflight.Wait()
	s.close(websocket.StatusNormalClosure, "")
}

func (s *session) dispatch(ctx context.Context, d Dispatcher, req Request) {
	res := d.Dispatch(ctx, dispatch.Request{
		ID:        req.ID,
		Identity:  s.identity,
		Operation: req.Operation,
		Args:      req.Args,
		Token:     req.Token,
		Channel:   &sessionChannel{session: s, requestID: req.ID},
	})

	done := Message{RequestID: req.ID, Done: true, State: res.Via.String()}
	if res.Outcome != nil {
		done.Outcome = res.Outcome.Kind.String()
		done.ExitCode = res.Outcome.ExitCode
	}
	if err := s.write(context.WithoutCancel(ctx), done); err != nil {
		s.log.Debugf("error sending done message: %s", err)
	}
}

// write serializes writes so that each message is sent whole.
func (s *session) write(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	s.writeMut.Lock()
	defer s.writeMut.Unlock()
	return wsjson.Write(ctx, s.conn, msg)
}

func (s *session) close(code websocket.StatusCode, reason string) {
	// websocket reason can't be above 123 chars
	if len(reason) > 100 {
		reason = reason[0:100]
	}
	s.closeConnOnce.Do(func() {
		err := s.conn.Close(code, reason)
		if err != nil {
			s.log.Debugf("error closing conn: %s", err)
		}
	})
}
