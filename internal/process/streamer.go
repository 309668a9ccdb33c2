package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"strings"

	"github.com/guseggert/opsbot/internal/relay"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
)

var errEmptyCommand = errors.New("empty command line")

// Streamer runs commands and relays their merged output.
// A Streamer holds no per-run state and can be shared by concurrent requests.
type Streamer struct {
	Log   *zap.SugaredLogger
	Relay *relay.Relay
	// Encoding decodes the merged output stream. Nil means the output is passed through as-is.
	Encoding encoding.Encoding
}

type Option func(s *Streamer)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Streamer) {
		s.Log = l.Named("streamer")
	}
}

func WithEncoding(e encoding.Encoding) Option {
	return func(s *Streamer) {
		s.Encoding = e
	}
}

func NewStreamer(r *relay.Relay, opts ...Option) *Streamer {
	s := &Streamer{
		Log:   zap.NewNop().Sugar(),
		Relay: r,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// procResult is what the worker reports once the process is gone (or never started).
type procResult struct {
	spawnErr error
	readErr  error
	waitErr  error
	exitCode int
}

// Run executes spec, relaying progress to ch, and returns how the execution ended.
// Exactly one terminal banner is relayed per call.
func (s *Streamer) Run(ctx context.Context, ch relay.Channel, spec Spec) Outcome {
	log := s.Log.With("Command", spec.String())

	if spec.Description() != "" {
		s.Relay.Send(ctx, ch, startingBanner(spec.Description()))
	}

	lines := make(chan string)
	resultCh := make(chan procResult, 1)
	go s.work(spec, lines, resultCh)

	for line := range lines {
		line = strings.ToValidUTF8(strings.TrimRight(line, "\r\n"), "\uFFFD")
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.Relay.Send(ctx, ch, lineMessage(line))
	}

	outcome := classify(<-resultCh)
	switch outcome.Kind {
	case Success:
		log.Infow("command succeeded")
	case NonZeroExit:
		log.Infow("command exited with non-zero code", "ExitCode", outcome.ExitCode)
	case SpawnFailed:
		log.Warnw("command not found", "Executable", spec.Executable(), "Error", outcome.Err)
	default:
		log.Errorw("unexpected error running command", "Error", outcome.Err)
	}
	s.Relay.Send(ctx, ch, Banner(outcome, spec))
	return outcome
}

// work runs on its own goroutine so that the blocking spawn, reads and wait never run on the request goroutine.
// Lines are pushed through an unbuffered channel, which keeps them in order and applies backpressure to the reader.
func (s *Streamer) work(spec Spec, lines chan<- string, resultCh chan<- procResult) {
	defer close(lines)

	if spec.Executable() == "" {
		resultCh <- procResult{spawnErr: errEmptyCommand}
		return
	}

	cmd := exec.Command(spec.Executable(), spec.Args()...)
	// The wrapped executables are shipped next to the bot and are invoked by bare name.
	if errors.Is(cmd.Err, exec.ErrDot) {
		cmd.Err = nil
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		resultCh <- procResult{spawnErr: fmt.Errorf("creating stdout pipe: %w", err)}
		return
	}
	cmd.Stderr = cmd.Stdout

	err = cmd.Start()
	if err != nil {
		resultCh <- procResult{spawnErr: err}
		return
	}
	s.Log.Debugf("process %d started", cmd.Process.Pid)

	var r io.Reader = stdout
	if s.Encoding != nil {
		r = s.Encoding.NewDecoder().Reader(stdout)
	}
	readErr := readLines(bufio.NewReader(r), lines)
	if readErr != nil {
		// keep the pipe drained so the process can't block on a full pipe and Wait returns
		_, _ = io.Copy(io.Discard, stdout)
	}

	res := procResult{readErr: readErr}
	err = cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.exitCode = exitErr.ExitCode()
		} else {
			res.waitErr = fmt.Errorf("waiting for process: %w", err)
		}
	}
	s.Log.Debugf("process %d exited with code %d", cmd.Process.Pid, cmd.ProcessState.ExitCode())
	resultCh <- res
}

// readLines pushes every line including its terminator. A final unterminated line is pushed too.
func readLines(r *bufio.Reader, lines chan<- string) error {
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			lines <- line
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading output: %w", err)
		}
	}
}

func classify(res procResult) Outcome {
	switch {
	case res.spawnErr != nil && isNotFound(res.spawnErr):
		return Outcome{Kind: SpawnFailed, Err: res.spawnErr}
	case res.spawnErr != nil:
		return Outcome{Kind: UnexpectedFault, Err: res.spawnErr}
	case res.waitErr != nil:
		return Outcome{Kind: UnexpectedFault, Err: res.waitErr}
	case res.readErr != nil:
		return Outcome{Kind: UnexpectedFault, Err: res.readErr}
	case res.exitCode != 0:
		return Outcome{Kind: NonZeroExit, ExitCode: res.exitCode}
	default:
		return Outcome{Kind: Success}
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
