//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

func shCommand(script string, c Command) Command {
	c.Argv = []string{"/bin/sh", "-c", script}
	if c.TimeLimitSeconds == 0 {
		c.TimeLimitSeconds = 5
	}
	if c.MemoryLimitMB == 0 {
		c.MemoryLimitMB = 256
	}
	c.Env = os.Environ()
	return c
}

func TestSuperviseCapturesStdout(t *testing.T) {
	res := NewRunner().Supervise(context.Background(), shCommand("echo hello", Command{}))
	if res.ReturnCode != 0 {
		t.Fatalf("return code = %d, stderr = %q", res.ReturnCode, res.Stderr)
	}
	if res.Stdout != "hello" {
		t.Errorf("stdout = %q, want hello", res.Stdout)
	}
	if res.TimeExceeded || res.MemoryExceeded || res.OutputExceeded {
		t.Errorf("unexpected violation flags: %+v", res)
	}
	if res.Elapsed <= 0 {
		t.Errorf("elapsed = %v, want > 0", res.Elapsed)
	}
}

func TestSuperviseFeedsStdin(t *testing.T) {
	res := NewRunner().Supervise(context.Background(), shCommand("cat", Command{Stdin: []byte("42\n")}))
	if res.ReturnCode != 0 {
		t.Fatalf("return code = %d", res.ReturnCode)
	}
	if res.Stdout != "42" {
		t.Errorf("stdout = %q, want 42", res.Stdout)
	}
}

func TestSuperviseReportsExitCode(t *testing.T) {
	res := NewRunner().Supervise(context.Background(), shCommand("exit 3", Command{}))
	if res.ReturnCode != 3 {
		t.Errorf("return code = %d, want 3", res.ReturnCode)
	}
}

func TestSuperviseCapturesStderr(t *testing.T) {
	res := NewRunner().Supervise(context.Background(), shCommand("echo oops >&2", Command{}))
	if res.ReturnCode != 0 {
		t.Fatalf("return code = %d", res.ReturnCode)
	}
	if res.Stderr != "oops" {
		t.Errorf("stderr = %q, want oops", res.Stderr)
	}
}

func TestSuperviseReportsSignalAsNegativeStatus(t *testing.T) {
	res := NewRunner().Supervise(context.Background(), shCommand("kill -11 $$", Command{}))
	if res.ReturnCode != -int(syscall.SIGSEGV) {
		t.Errorf("return code = %d, want %d", res.ReturnCode, -int(syscall.SIGSEGV))
	}
}

func TestSuperviseKillsOnWallClockDeadline(t *testing.T) {
	start := time.Now()
	res := NewRunner().Supervise(context.Background(),
		shCommand("sleep 30", Command{TimeLimitSeconds: 1}))
	took := time.Since(start)

	if !res.TimeExceeded {
		t.Errorf("time_exceeded not set: %+v", res)
	}
	if !res.Killed || res.KillReason != KillReasonTimeLimit {
		t.Errorf("kill reason = %q, want time limit", res.KillReason)
	}
	if res.ReturnCode != -int(syscall.SIGKILL) {
		t.Errorf("return code = %d, want SIGKILL", res.ReturnCode)
	}
	if took > 4*time.Second {
		t.Errorf("supervisor took %v, deadline enforcement is broken", took)
	}
}

func TestSuperviseKillsOnMemoryCeiling(t *testing.T) {
	// The shell interpreter alone holds more than 1 MiB resident. The
	// trailing builtin stops the shell from exec'ing sleep directly.
	res := NewRunner().Supervise(context.Background(),
		shCommand("sleep 10; :", Command{TimeLimitSeconds: 5, MemoryLimitMB: 1}))
	if !res.MemoryExceeded {
		if res.PeakMB < 1.0 {
			t.Skipf("shell rss %v MiB stays under the ceiling on this host", res.PeakMB)
		}
		t.Errorf("memory_exceeded not set: %+v", res)
	}
}

func TestSuperviseFlagsOutputFlood(t *testing.T) {
	// 17 MiB of zeroes crosses the 16 MiB run cap.
	res := NewRunner().Supervise(context.Background(),
		shCommand("head -c 17825792 /dev/zero", Command{TimeLimitSeconds: 10}))
	if !res.OutputExceeded {
		t.Errorf("output_exceeded not set: %+v", res)
	}
	if int64(len(res.Stdout)) > outputCapBytes(false) {
		t.Errorf("stored stdout exceeds the cap: %d bytes", len(res.Stdout))
	}
}

func TestSuperviseCompilationCapIsLarger(t *testing.T) {
	// The same flood fits under the 64 MiB compilation cap.
	res := NewRunner().Supervise(context.Background(),
		shCommand("head -c 17825792 /dev/zero", Command{TimeLimitSeconds: 10, IsCompilation: true}))
	if res.OutputExceeded {
		t.Errorf("output_exceeded set under the compilation cap: %+v", res)
	}
}

func TestSuperviseCancellationKillsGroup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := NewRunner().Supervise(ctx, shCommand("sleep 30", Command{TimeLimitSeconds: 60}))
	took := time.Since(start)

	if !res.Killed || res.KillReason != KillReasonCanceled {
		t.Errorf("kill reason = %q, want canceled", res.KillReason)
	}
	if took > 3*time.Second {
		t.Errorf("cancellation took %v", took)
	}
}

func TestSuperviseSpawnFailure(t *testing.T) {
	res := NewRunner().Supervise(context.Background(), Command{
		Argv:             []string{"/nonexistent/binary"},
		TimeLimitSeconds: 1,
		MemoryLimitMB:    64,
	})
	if res.ReturnCode != -1 {
		t.Errorf("return code = %d, want -1", res.ReturnCode)
	}
	if !strings.HasPrefix(res.Stderr, "Process start failed:") {
		t.Errorf("stderr = %q, want spawn failure prefix", res.Stderr)
	}
}

func TestSuperviseEmptyCommand(t *testing.T) {
	res := NewRunner().Supervise(context.Background(), Command{})
	if res.ReturnCode != -1 {
		t.Errorf("return code = %d, want -1", res.ReturnCode)
	}
}

func TestCappedBufferStopsStoringPastCap(t *testing.T) {
	buf := newCappedBuffer(8)
	buf.drain(bytes.NewReader([]byte("0123456789")))

	if got := buf.String(); got != "01234567" {
		t.Errorf("stored = %q, want first 8 bytes", got)
	}
	if !buf.exceeded() {
		t.Error("exceeded should be set past the cap")
	}
}

func TestCappedBufferUnderCap(t *testing.T) {
	buf := newCappedBuffer(8)
	buf.drain(bytes.NewReader([]byte("0123")))

	if got := buf.String(); got != "0123" {
		t.Errorf("stored = %q", got)
	}
	if buf.exceeded() {
		t.Error("exceeded must not be set under the cap")
	}
}

func TestReadRSSReportsOwnProcess(t *testing.T) {
	mb, ok := readRSSMB(os.Getpid())
	if !ok {
		t.Fatal("own process should be readable")
	}
	if mb <= 0 {
		t.Errorf("rss = %v MiB, want > 0", mb)
	}
}

func TestReadRSSVanishedProcess(t *testing.T) {
	// PID is valid syntax but (almost certainly) not running.
	if _, ok := readRSSMB(1 << 22); ok {
		t.Skip("pid unexpectedly exists")
	}
}
