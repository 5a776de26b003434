//go:build linux

package sandbox

import (
	"context"

	"golang.org/x/sys/unix"

	"codeio/pkg/utils/logger"

	"go.uber.org/zap"
)

// applyRlimits installs CPU, address-space and file-size limits on the
// freshly started child. Go offers no hook between fork and exec, so the
// limits land via prlimit on the child's pid; the window before they apply is
// microseconds and the supervisor's own watcher is the authoritative bound.
// Individual setting failures are logged and swallowed so the run proceeds.
func applyRlimits(ctx context.Context, pid, timeLimitSeconds, memoryLimitMB int, isCompilation bool) {
	cpu := uint64(timeLimitSeconds)
	setRlimit(ctx, pid, unix.RLIMIT_CPU, "cpu", cpu)

	// RLIMIT_AS covers both resident and virtual pages; fall back to the
	// data segment where the kernel refuses the address-space cap.
	memBytes := uint64(memoryLimitMB) * 1024 * 1024
	rl := unix.Rlimit{Cur: memBytes, Max: memBytes}
	if err := unix.Prlimit(pid, unix.RLIMIT_AS, &rl, nil); err != nil {
		logger.Warn(ctx, "set RLIMIT_AS failed, trying RLIMIT_DATA",
			zap.Int("pid", pid), zap.Error(err))
		setRlimit(ctx, pid, unix.RLIMIT_DATA, "data", memBytes)
	}

	setRlimit(ctx, pid, unix.RLIMIT_FSIZE, "fsize", uint64(outputCapBytes(isCompilation)))
}

func setRlimit(ctx context.Context, pid, resource int, name string, value uint64) {
	rl := unix.Rlimit{Cur: value, Max: value}
	if err := unix.Prlimit(pid, resource, &rl, nil); err != nil {
		logger.Warn(ctx, "set rlimit failed",
			zap.Int("pid", pid), zap.String("rlimit", name), zap.Error(err))
	}
}
