//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"codeio/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	rssPollInterval  = time.Millisecond
	wallClockGrace   = 500 * time.Millisecond
	drainJoinTimeout = time.Second
)

// Runner supervises one child process per call: it spawns the command in its
// own process group, drains stdio under a cap, polls RSS, enforces the
// wall-clock deadline and reaps the child.
type Runner struct{}

// NewRunner creates a process supervisor.
func NewRunner() *Runner {
	return &Runner{}
}

// Supervise runs the command to completion and returns the observed result.
// Failures to even start the child are folded into the result with a
// negative return code and the reason in stderr.
func (r *Runner) Supervise(ctx context.Context, c Command) Result {
	if len(c.Argv) == 0 {
		return spawnFailure(fmt.Errorf("empty command"))
	}

	cmd := exec.Command(c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	// The child leads its own process group so a kill reaches grandchildren.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return spawnFailure(err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return spawnFailure(err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return spawnFailure(err)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	start := time.Now()
	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		return spawnFailure(err)
	}
	pid := cmd.Process.Pid

	// Child-side ends belong to the child now.
	closeAll(stdinR, stdoutW, stderrW)

	applyRlimits(ctx, pid, c.TimeLimitSeconds, c.MemoryLimitMB, c.IsCompilation)

	state := &runState{}
	capBytes := outputCapBytes(c.IsCompilation)
	outBuf := newCappedBuffer(capBytes)
	errBuf := newCappedBuffer(capBytes)

	var drainers sync.WaitGroup
	drainers.Add(3)
	go func() {
		defer drainers.Done()
		writeStdin(stdinW, c.Stdin)
	}()
	go func() {
		defer drainers.Done()
		outBuf.drain(stdoutR)
	}()
	go func() {
		defer drainers.Done()
		errBuf.drain(stderrR)
	}()

	watchStop := make(chan struct{})
	watchExited := make(chan struct{})
	go func() {
		defer close(watchExited)
		watch(ctx, pid, c, start, state, watchStop)
	}()

	// The reaper is the authoritative exit path.
	waitErr := cmd.Wait()
	elapsed := time.Since(start).Seconds()
	close(watchStop)
	<-watchExited

	// Grandchildren may outlive the child and hold the pipe write ends open.
	_ = unix.Kill(-pid, unix.SIGKILL)

	if !joinWithTimeout(&drainers, drainJoinTimeout) {
		// Something in the group ignored SIGKILL; abandon the pipes so the
		// drainers unblock.
		closeAll(stdoutR, stderrR, stdinW)
		joinWithTimeout(&drainers, drainJoinTimeout)
	} else {
		closeAll(stdoutR, stderrR)
	}

	res := state.snapshot()
	res.Stdout = strings.TrimRight(outBuf.String(), " \t\r\n")
	res.Stderr = strings.TrimRight(errBuf.String(), " \t\r\n")
	res.OutputExceeded = outBuf.exceeded() || errBuf.exceeded()
	res.Elapsed = elapsed
	res.ReturnCode = terminationStatus(waitErr, cmd.ProcessState)

	// A short-lived spike can escape the 1ms sampler; the child's own
	// accounting from wait4 is a lower bound on the true peak.
	if ru, ok := cmd.ProcessState.SysUsage().(*syscall.Rusage); ok && ru != nil {
		if ruMB := float64(ru.Maxrss) / 1024.0; ruMB > res.PeakMB {
			res.PeakMB = ruMB
		}
	}

	if res.Elapsed > float64(c.TimeLimitSeconds) {
		res.TimeExceeded = true
	}
	if res.PeakMB > float64(c.MemoryLimitMB) {
		res.MemoryExceeded = true
	}
	return res
}

// watch polls the child's RSS at ~1kHz and enforces the memory ceiling and
// the wall-clock deadline. The deadline carries a half-second grace to absorb
// startup jitter; the authoritative exceeded flag is computed against the
// plain limit at reap time.
func watch(ctx context.Context, pid int, c Command, start time.Time, state *runState, stop <-chan struct{}) {
	deadline := start.Add(time.Duration(c.TimeLimitSeconds)*time.Second + wallClockGrace)
	ticker := time.NewTicker(rssPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			state.recordKill(KillReasonCanceled)
			_ = unix.Kill(-pid, unix.SIGKILL)
			return
		case now := <-ticker.C:
			rssMB, ok := readRSSMB(pid)
			if !ok {
				// Child vanished between poll and read; trust the reaper.
				return
			}
			state.updatePeak(rssMB)
			if rssMB > float64(c.MemoryLimitMB) {
				state.recordViolation(KillReasonMemoryLimit)
				_ = unix.Kill(-pid, unix.SIGKILL)
				return
			}
			if now.After(deadline) {
				state.recordViolation(KillReasonTimeLimit)
				_ = unix.Kill(-pid, unix.SIGKILL)
				return
			}
		}
	}
}

// runState is the shared result record; all watcher writes go through it.
type runState struct {
	mu             sync.Mutex
	peakMB         float64
	killed         bool
	reason         KillReason
	timeExceeded   bool
	memoryExceeded bool
}

func (s *runState) updatePeak(mb float64) {
	s.mu.Lock()
	if mb > s.peakMB {
		s.peakMB = mb
	}
	s.mu.Unlock()
}

func (s *runState) recordKill(reason KillReason) {
	s.mu.Lock()
	if !s.killed {
		s.killed = true
		s.reason = reason
	}
	s.mu.Unlock()
}

func (s *runState) recordViolation(reason KillReason) {
	s.mu.Lock()
	if !s.killed {
		s.killed = true
		s.reason = reason
	}
	switch reason {
	case KillReasonTimeLimit:
		s.timeExceeded = true
	case KillReasonMemoryLimit:
		s.memoryExceeded = true
	}
	s.mu.Unlock()
}

func (s *runState) snapshot() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Result{
		PeakMB:         s.peakMB,
		Killed:         s.killed,
		KillReason:     s.reason,
		TimeExceeded:   s.timeExceeded,
		MemoryExceeded: s.memoryExceeded,
	}
}

// cappedBuffer stores up to cap bytes and keeps draining past it.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int64
	total int64
}

func newCappedBuffer(limit int64) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) drain(r io.Reader) {
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			b.store(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}

func (b *cappedBuffer) store(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total += int64(len(p))
	if remain := b.limit - int64(b.buf.Len()); remain > 0 {
		if int64(len(p)) > remain {
			p = p[:remain]
		}
		b.buf.Write(p)
	}
}

func (b *cappedBuffer) exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total > b.limit
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// writeStdin feeds the child and closes the pipe. Write errors are expected
// when the child exits without reading.
func writeStdin(w *os.File, data []byte) {
	defer w.Close()
	if len(data) == 0 {
		return
	}
	_, _ = w.Write(data)
}

// terminationStatus maps the reaped state to a nonnegative exit code or a
// negated signal number.
func terminationStatus(waitErr error, state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		switch {
		case ws.Signaled():
			return -int(ws.Signal())
		case ws.Exited():
			return ws.ExitStatus()
		}
	}
	if waitErr == nil {
		return 0
	}
	return -1
}

func spawnFailure(err error) Result {
	logger.Warn(context.Background(), "process start failed", zap.Error(err))
	return Result{
		ReturnCode: -1,
		Stderr:     fmt.Sprintf("Process start failed: %v", err),
	}
}

func joinWithTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
