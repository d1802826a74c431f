package gtp

import (
	"bufio"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeEngine struct {
	stdout *io.PipeWriter
	stderr *io.PipeWriter
	cmds   chan string
}

func (f *fakeEngine) writeStdout(t *testing.T, s string) {
	t.Helper()
	if _, err := io.WriteString(f.stdout, s); err != nil {
		t.Fatalf("write stdout: %v", err)
	}
}

func (f *fakeEngine) writeStderr(t *testing.T, s string) {
	t.Helper()
	if _, err := io.WriteString(f.stderr, s); err != nil {
		t.Fatalf("write stderr: %v", err)
	}
}

func newTestSession(t *testing.T, cfg Config) (*Session, *fakeEngine) {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()

	if cfg.PostResponsePoll == 0 {
		cfg.PostResponsePoll = 30 * time.Millisecond
	}
	if cfg.StderrPoll == 0 {
		cfg.StderrPoll = 20 * time.Millisecond
	}

	s := NewSession(cfg, zap.NewNop())
	s.attach(inW, outR, errR)

	fe := &fakeEngine{stdout: outW, stderr: errW, cmds: make(chan string, 16)}
	go func() {
		sc := bufio.NewScanner(inR)
		for sc.Scan() {
			fe.cmds <- sc.Text()
		}
		close(fe.cmds)
	}()

	t.Cleanup(func() {
		_ = outW.Close()
		_ = errW.Close()
		_ = s.Stop()
	})
	return s, fe
}

func receivedCommand(t *testing.T, fe *fakeEngine) string {
	t.Helper()
	select {
	case cmd := <-fe.cmds:
		return cmd
	case <-time.After(time.Second):
		t.Fatalf("no command reached the engine")
		return ""
	}
}

func TestSendBeforeStartFails(t *testing.T) {
	s := NewSession(Config{}, nil)
	resp := s.Send(context.Background(), time.Second, "name")
	if resp.Success {
		t.Fatalf("expected failure before start")
	}
	if resp.Text() != "process not started" {
		t.Fatalf("unexpected message %q", resp.Text())
	}
}

func TestSendMatchesTaggedResponse(t *testing.T) {
	s, fe := newTestSession(t, Config{})
	fe.writeStdout(t, "=1 KataGo\n")

	resp := s.Send(context.Background(), time.Second, "name")
	if !resp.Success {
		t.Fatalf("expected success, got %q", resp.Text())
	}
	if resp.Result != "KataGo" {
		t.Fatalf("payload = %q", resp.Result)
	}
	if cmd := receivedCommand(t, fe); cmd != "1 name" {
		t.Fatalf("engine saw %q", cmd)
	}
}

func TestSendSequenceIncrements(t *testing.T) {
	s, fe := newTestSession(t, Config{})

	fe.writeStdout(t, "=1 KataGo\n")
	if resp := s.Send(context.Background(), time.Second, "name"); !resp.Success {
		t.Fatalf("first send failed: %q", resp.Text())
	}
	fe.writeStdout(t, "=2 1.16.3\n")
	if resp := s.Send(context.Background(), time.Second, "version"); !resp.Success {
		t.Fatalf("second send failed: %q", resp.Text())
	}

	if cmd := receivedCommand(t, fe); cmd != "1 name" {
		t.Fatalf("first command %q", cmd)
	}
	if cmd := receivedCommand(t, fe); cmd != "2 version" {
		t.Fatalf("second command %q", cmd)
	}
}

func TestSendWithArguments(t *testing.T) {
	s, fe := newTestSession(t, Config{})
	fe.writeStdout(t, "=1\n")

	resp := s.Send(context.Background(), time.Second, "play", "B", "d4")
	if !resp.Success {
		t.Fatalf("play failed: %q", resp.Text())
	}
	if cmd := receivedCommand(t, fe); cmd != "1 play B d4" {
		t.Fatalf("engine saw %q", cmd)
	}
}

func TestErrorTagIsFailure(t *testing.T) {
	s, fe := newTestSession(t, Config{})
	fe.writeStdout(t, "?1 illegal move\n")

	resp := s.Send(context.Background(), time.Second, "play", "B", "z99")
	if resp.Success {
		t.Fatalf("expected failure")
	}
	if resp.Result != "" {
		t.Fatalf("failure should carry no payload, got %q", resp.Result)
	}
	if resp.Text() != "?1 illegal move" {
		t.Fatalf("message = %q", resp.Text())
	}
}

func TestAuxiliaryLinesCollected(t *testing.T) {
	s, fe := newTestSession(t, Config{})
	fe.writeStdout(t, "free chatter\n=1 done\n")

	resp := s.Send(context.Background(), time.Second, "showboard")
	if !resp.Success {
		t.Fatalf("send failed: %q", resp.Text())
	}
	if len(resp.Lines) != 1 || resp.Lines[0] != "free chatter" {
		t.Fatalf("lines = %v", resp.Lines)
	}
}

func TestInfoMoveLinesSkippedForPlainCommands(t *testing.T) {
	s, fe := newTestSession(t, Config{})
	fe.writeStdout(t, "info move d4 visits 100\n=1 d4\n")

	resp := s.Send(context.Background(), time.Second, "genmove", "W")
	if !resp.Success {
		t.Fatalf("send failed: %q", resp.Text())
	}
	// With analysis noise skipped, the message falls back to the response line.
	if resp.Text() != "=1 d4" {
		t.Fatalf("message = %q", resp.Text())
	}
}

func TestLongLinesTruncated(t *testing.T) {
	s, fe := newTestSession(t, Config{LineLimit: 10})
	fe.writeStdout(t, strings.Repeat("x", 25)+"\n=1 ok\n")

	resp := s.Send(context.Background(), time.Second, "showboard")
	if !resp.Success {
		t.Fatalf("send failed: %q", resp.Text())
	}
	want := strings.Repeat("x", 10) + "...(truncated)"
	if len(resp.Lines) != 1 || resp.Lines[0] != want {
		t.Fatalf("lines = %v", resp.Lines)
	}
}

func TestTimeoutBecomesFailedResponse(t *testing.T) {
	s, _ := newTestSession(t, Config{})

	start := time.Now()
	resp := s.Send(context.Background(), 50*time.Millisecond, "genmove", "B")
	if resp.Success {
		t.Fatalf("expected timeout failure")
	}
	if !strings.Contains(resp.Text(), "no response") {
		t.Fatalf("message = %q", resp.Text())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
}

func TestClosedPipeBecomesFailedResponse(t *testing.T) {
	s, fe := newTestSession(t, Config{})
	_ = fe.stdout.Close()

	resp := s.Send(context.Background(), time.Second, "name")
	if resp.Success {
		t.Fatalf("expected failure on closed pipe")
	}
	if !strings.Contains(resp.Text(), "closed") {
		t.Fatalf("message = %q", resp.Text())
	}
}

func TestAnalyzeDrainsBothStreams(t *testing.T) {
	s, fe := newTestSession(t, Config{MaxScoreValues: 2})

	fe.writeStderr(t, "NN eval scoreMean 0.7\nweights loaded\n")
	fe.writeStdout(t, "=1\n"+
		"info move d4 visits 100 scoreMean 1.5\n"+
		"info move q4 visits 80 scoreMean 2.0\n")

	resp := s.Send(context.Background(), 500*time.Millisecond, "kata-analyze", "1")
	if !resp.Success {
		t.Fatalf("analyze failed: %q", resp.Text())
	}

	var stdoutLines, stderrLines int
	for _, line := range resp.Lines {
		switch {
		case strings.HasPrefix(line, "info move"):
			stdoutLines++
		case strings.Contains(line, "NN eval"):
			stderrLines++
		case strings.Contains(line, "weights loaded"):
			t.Fatalf("stderr noise without scoreMean should be dropped: %v", resp.Lines)
		}
	}
	if stdoutLines != 2 {
		t.Fatalf("expected 2 stdout reports, got %d: %v", stdoutLines, resp.Lines)
	}
	if stderrLines != 1 {
		t.Fatalf("expected 1 stderr report, got %d: %v", stderrLines, resp.Lines)
	}
}

func TestAnalyzeStopsAfterEnoughReports(t *testing.T) {
	s, fe := newTestSession(t, Config{MaxScoreValues: 2, PostResponsePoll: 200 * time.Millisecond})

	var flood strings.Builder
	flood.WriteString("=1\n")
	for i := 0; i < 20; i++ {
		flood.WriteString("info move d4 visits 10 scoreMean 1.0\n")
	}
	fe.writeStdout(t, flood.String())

	start := time.Now()
	resp := s.Send(context.Background(), time.Second, "kata-analyze", "1")
	if !resp.Success {
		t.Fatalf("analyze failed: %q", resp.Text())
	}
	// Early exit: the poll timeout never has to expire once enough scored
	// reports arrived.
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("analyze did not exit early: %s", elapsed)
	}
}

func TestAwaitReadyConsumesUpToSentinel(t *testing.T) {
	s, fe := newTestSession(t, Config{ReadyTimeout: 200 * time.Millisecond})
	fe.writeStderr(t, "loading model\nGTP ready, beginning main protocol loop\nleftover\n")

	s.awaitReady(context.Background())

	line, open, timedOut := readWait(context.Background(), s.stderr, 200*time.Millisecond)
	if timedOut || !open {
		t.Fatalf("expected leftover line after ready sentinel")
	}
	if line != "leftover" {
		t.Fatalf("leftover = %q", line)
	}
}

func TestAwaitReadyTimeoutIsNonFatal(t *testing.T) {
	s, _ := newTestSession(t, Config{ReadyTimeout: 50 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		s.awaitReady(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("awaitReady did not give up")
	}
}
