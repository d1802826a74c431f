// Package gtp speaks the Go Text Protocol to a KataGo engine process over
// stdin/stdout, with stderr carrying startup chatter and analysis estimates.
package gtp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "katagollum_engine_commands_total",
			Help: "GTP commands sent to the engine, by verb and outcome.",
		},
		[]string{"verb", "status"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "katagollum_engine_command_duration_seconds",
			Help:    "Round trip latency of GTP commands.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"verb"},
	)
)

func init() {
	prometheus.MustRegister(commandsTotal, commandDuration)
}

const (
	DefaultReadyTimeout     = 30 * time.Second
	DefaultReadySentinel    = "GTP ready"
	DefaultPostResponsePoll = 500 * time.Millisecond
	DefaultStderrPoll       = 300 * time.Millisecond
	DefaultMaxScoreValues   = 10
	DefaultMaxAnalyzeLines  = 100
	DefaultLineLimit        = 500

	// stderr is drained only for analyze commands; the engine floods it.
	maxStderrLines           = 500
	stderrDrainAfterResponse = 50

	lineBuffer = 256
)

type Config struct {
	// Command is the engine invocation, e.g. ["katago", "gtp", "-model", ...].
	Command []string

	ReadyTimeout  time.Duration
	ReadySentinel string

	// PostResponsePoll bounds per-line reads after the tagged response line
	// arrived; StderrPoll bounds per-line stderr reads during analysis.
	PostResponsePoll time.Duration
	StderrPoll       time.Duration

	// Analyze drains stop early after MaxScoreValues scored reports or
	// MaxAnalyzeLines stdout lines.
	MaxScoreValues  int
	MaxAnalyzeLines int

	// LineLimit truncates stored lines; the engine emits very wide reports.
	LineLimit int
}

func (c Config) withDefaults() Config {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.ReadySentinel == "" {
		c.ReadySentinel = DefaultReadySentinel
	}
	if c.PostResponsePoll <= 0 {
		c.PostResponsePoll = DefaultPostResponsePoll
	}
	if c.StderrPoll <= 0 {
		c.StderrPoll = DefaultStderrPoll
	}
	if c.MaxScoreValues <= 0 {
		c.MaxScoreValues = DefaultMaxScoreValues
	}
	if c.MaxAnalyzeLines <= 0 {
		c.MaxAnalyzeLines = DefaultMaxAnalyzeLines
	}
	if c.LineLimit <= 0 {
		c.LineLimit = DefaultLineLimit
	}
	return c
}

// Response is the outcome of one GTP exchange. Send never returns an error;
// timeouts and transport failures come back as a failed Response.
type Response struct {
	Success bool
	// Result is the payload after the "={id}" tag, empty on failure.
	Result string
	// Lines holds auxiliary output (analysis reports, board diagrams) or,
	// on failure, a single line describing what went wrong.
	Lines []string
}

func (r Response) Text() string {
	return strings.Join(r.Lines, "\n")
}

func failure(msg string) Response {
	return Response{Lines: []string{msg}}
}

// Session owns one engine process. Commands are serialized: one in flight at
// a time, with monotonically increasing ids that are never reused.
type Session struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	seq     int
	started bool

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout <-chan string
	stderr <-chan string
}

func NewSession(cfg Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{cfg: cfg.withDefaults(), logger: logger}
}

// NewPipedSession wires a session to an engine that is already running behind
// the given pipes. No process is spawned and Stop only closes stdin.
func NewPipedSession(cfg Config, logger *zap.Logger, stdin io.WriteCloser, stdout, stderr io.Reader) *Session {
	s := NewSession(cfg, logger)
	s.attach(stdin, stdout, stderr)
	return s
}

// Start spawns the engine and waits for its ready line on stderr. A missing
// ready line is logged and tolerated; a spawn failure is returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if len(s.cfg.Command) == 0 {
		return errors.New("engine command is required")
	}

	cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	s.cmd = cmd
	s.attach(stdin, stdout, stderr)
	s.logger.Info("engine process started",
		zap.String("binary", s.cfg.Command[0]),
		zap.Int("pid", cmd.Process.Pid))

	s.awaitReady(ctx)
	s.started = true
	return nil
}

// attach wires the session to explicit pipes. Start uses it with the spawned
// process; tests use it with in-memory pipes.
func (s *Session) attach(stdin io.WriteCloser, stdout, stderr io.Reader) {
	s.stdin = stdin
	s.stdout = readLines(stdout)
	s.stderr = readLines(stderr)
	s.started = true
}

func (s *Session) awaitReady(ctx context.Context) {
	for {
		line, open, timedOut := readWait(ctx, s.stderr, s.cfg.ReadyTimeout)
		if timedOut {
			s.logger.Warn("engine ready line not seen, continuing anyway",
				zap.Duration("timeout", s.cfg.ReadyTimeout))
			return
		}
		if !open {
			s.logger.Warn("engine stderr closed before ready line")
			return
		}
		if line == "" {
			continue
		}
		s.logger.Debug("engine init", zap.String("line", truncateLine(line, s.cfg.LineLimit)))
		if strings.Contains(line, s.cfg.ReadySentinel) {
			s.logger.Info("engine ready")
			return
		}
	}
}

// Send issues one command and collects its tagged response. The timeout
// applies per line read until the response is seen; afterwards the session
// polls briefly for trailing output. Analyze commands drain stdout and stderr
// together and stop early once enough scored reports arrived.
func (s *Session) Send(ctx context.Context, timeout time.Duration, verb string, args ...string) Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return failure("process not started")
	}

	s.seq++
	id := s.seq
	cmdLine := verb
	if len(args) > 0 {
		cmdLine += " " + strings.Join(args, " ")
	}

	begin := time.Now()
	resp := s.exchange(ctx, id, cmdLine, verb, timeout)

	status := "ok"
	if !resp.Success {
		status = "error"
	}
	commandsTotal.WithLabelValues(verb, status).Inc()
	commandDuration.WithLabelValues(verb).Observe(time.Since(begin).Seconds())

	if resp.Success {
		s.logger.Debug("engine command ok",
			zap.Int("id", id),
			zap.String("verb", verb),
			zap.Duration("took", time.Since(begin)))
	} else {
		s.logger.Warn("engine command failed",
			zap.Int("id", id),
			zap.String("verb", verb),
			zap.String("reason", resp.Text()))
	}
	return resp
}

func (s *Session) exchange(ctx context.Context, id int, cmdLine, verb string, timeout time.Duration) Response {
	if _, err := io.WriteString(s.stdin, fmt.Sprintf("%d %s\n", id, cmdLine)); err != nil {
		return failure(fmt.Sprintf("write to engine: %v", err))
	}

	analyze := strings.HasPrefix(verb, "kata-analyze")
	okTag := "=" + strconv.Itoa(id)
	errTag := "?" + strconv.Itoa(id)

	var (
		respLine    string
		lines       []string
		scoredLines int
		linesRead   int
		failMsg     string
	)

	// Analyze floods stderr with score estimates; drain it concurrently so
	// the pipe cannot fill while stdout is being read.
	found := make(chan struct{})
	var (
		wg          sync.WaitGroup
		stderrLines []string
	)
	if analyze {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stderrLines = s.drainStderr(ctx, found, timeout)
		}()
	}

	for {
		wait := timeout
		if respLine != "" {
			if analyze && (scoredLines >= s.cfg.MaxScoreValues || linesRead >= s.cfg.MaxAnalyzeLines) {
				break
			}
			wait = s.cfg.PostResponsePoll
		}

		line, open, timedOut := readWait(ctx, s.stdout, wait)
		if timedOut {
			if respLine == "" {
				failMsg = fmt.Sprintf("no response to command %d within %s", id, timeout)
			}
			break
		}
		if !open {
			if respLine == "" {
				failMsg = "engine closed stdout"
			}
			break
		}

		linesRead++
		if line == "" {
			continue
		}

		if tag := firstField(line); tag == okTag || tag == errTag {
			if respLine == "" {
				respLine = line
				close(found)
			}
			continue
		}

		if analyze {
			lines = append(lines, truncateLine(line, s.cfg.LineLimit))
			if strings.Contains(line, "scoreMean") {
				scoredLines++
			}
		} else if !strings.HasPrefix(line, "info move") {
			lines = append(lines, truncateLine(line, s.cfg.LineLimit))
		}
	}

	if analyze {
		wg.Wait()
		lines = append(lines, stderrLines...)
	}

	if failMsg != "" {
		return failure(failMsg)
	}
	if respLine == "" {
		return failure("no response from engine")
	}

	success := strings.HasPrefix(respLine, "=")
	var payload string
	if success {
		if _, rest, ok := strings.Cut(respLine, " "); ok {
			payload = strings.TrimSpace(rest)
		}
	}
	if len(lines) == 0 {
		lines = []string{respLine}
	}
	return Response{Success: success, Result: payload, Lines: lines}
}

func (s *Session) drainStderr(ctx context.Context, found <-chan struct{}, timeout time.Duration) []string {
	var kept []string
	deadline := time.Now().Add(timeout + s.cfg.StderrPoll)
	read := 0
	for read < maxStderrLines {
		if signaled(found) && read > stderrDrainAfterResponse {
			break
		}
		line, open, timedOut := readWait(ctx, s.stderr, s.cfg.StderrPoll)
		if timedOut {
			if signaled(found) {
				break
			}
			if time.Now().After(deadline) {
				break
			}
			continue
		}
		if !open {
			break
		}
		read++
		if line == "" {
			continue
		}
		if strings.Contains(line, "scoreMean") {
			kept = append(kept, truncateLine(line, s.cfg.LineLimit))
		}
	}
	return kept
}

// Stop closes stdin and kills the engine. Safe to call twice.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false

	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	// Unblock the reader goroutines in case their buffers are full.
	if s.stdout != nil {
		go drainAll(s.stdout)
	}
	if s.stderr != nil {
		go drainAll(s.stderr)
	}
	if s.cmd != nil {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
		s.cmd = nil
		s.logger.Info("engine process stopped")
	}
	return nil
}

// Started reports whether the session has a live engine attached.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func readLines(r io.Reader) <-chan string {
	ch := make(chan string, lineBuffer)
	go func() {
		defer close(ch)
		br := bufio.NewReader(r)
		for {
			line, err := br.ReadString('\n')
			if line != "" || err == nil {
				ch <- strings.TrimSpace(line)
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

func readWait(ctx context.Context, ch <-chan string, wait time.Duration) (line string, open bool, timedOut bool) {
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return "", true, true
	case line, ok := <-ch:
		return line, ok, false
	case <-t.C:
		return "", true, true
	}
}

func signaled(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func drainAll(ch <-chan string) {
	for range ch {
	}
}

func truncateLine(line string, limit int) string {
	if limit <= 0 || len(line) <= limit {
		return line
	}
	return line[:limit] + "...(truncated)"
}

func firstField(line string) string {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i]
	}
	return line
}
