// Package executor judges one attempt: compile, run tests, fold a verdict.
package executor

import (
	"context"
	"strings"

	"codeio/internal/executor/observer"
	"codeio/internal/executor/profile"
	"codeio/internal/executor/sandbox"
	"codeio/internal/executor/workspace"
	"codeio/internal/pmodel"
	appErr "codeio/pkg/errors"
	"codeio/pkg/utils/logger"

	"go.uber.org/zap"
)

// Compilation budgets are fixed regardless of the attempt's own limits.
// Java and Kotlin compilers are memory-hungry.
const (
	compileTimeLimitSeconds = 60
	compileMemoryLimitMB    = 2048
)

// Supervisor runs one command under resource supervision.
type Supervisor interface {
	Supervise(ctx context.Context, cmd sandbox.Command) sandbox.Result
}

// AttemptExecutor encapsulates the full cycle: compile, run tests, aggregate.
type AttemptExecutor struct {
	sup      Supervisor
	metrics  observer.MetricsRecorder
	workRoot string
}

// Option configures an AttemptExecutor.
type Option func(*AttemptExecutor)

// WithMetrics injects a metrics recorder.
func WithMetrics(m observer.MetricsRecorder) Option {
	return func(e *AttemptExecutor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithWorkRoot places attempt workspaces under dir instead of os.TempDir.
func WithWorkRoot(dir string) Option {
	return func(e *AttemptExecutor) {
		e.workRoot = dir
	}
}

// New creates an attempt executor backed by the given supervisor.
func New(sup Supervisor, opts ...Option) *AttemptExecutor {
	e := &AttemptExecutor{
		sup:     sup,
		metrics: observer.NoopMetricsRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute judges one attempt and returns its verdict. The language tag must
// be validated at the intake boundary; an unknown tag panics here. A non-nil
// error means the attempt produced no verdict (infrastructure failure or
// cancellation); the caller decides whether to synthesize one or let the
// message be redelivered.
func (e *AttemptExecutor) Execute(ctx context.Context, attempt pmodel.Attempt) (pmodel.ExecutionResult, error) {
	prof := profile.ProfileFor(attempt.Language)

	ws, err := workspace.New(e.workRoot, attempt.ID)
	if err != nil {
		return pmodel.ExecutionResult{}, err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			logger.Warn(ctx, "remove workspace failed", zap.String("dir", ws.Dir()), zap.Error(err))
		}
	}()

	srcPath, err := ws.WriteSource(prof.SourceFileName(), attempt.SourceCode)
	if err != nil {
		return pmodel.ExecutionResult{}, err
	}

	vars := profile.Vars{
		File:    srcPath,
		Exe:     ws.ExePath(),
		WorkDir: ws.Dir(),
	}

	compileVerdict, err := e.compile(ctx, attempt, prof, vars)
	if err != nil {
		return pmodel.ExecutionResult{}, err
	}
	if compileVerdict != nil {
		return *compileVerdict, nil
	}

	var maxElapsed, maxPeakMB float64
	for i, tc := range attempt.Tests {
		if err := ctx.Err(); err != nil {
			return pmodel.ExecutionResult{}, appErr.Wrap(err, appErr.Timeout)
		}

		idx := i + 1
		verdict, elapsed, peakMB, err := e.runTest(ctx, attempt, prof, vars, idx, tc)
		if err != nil {
			return pmodel.ExecutionResult{}, err
		}
		if verdict != nil {
			e.metrics.ObserveAttempt(ctx, string(attempt.Language), string(verdict.Status),
				derefInt64(verdict.TimeUsedMS), derefInt64(verdict.MemoryUsedBytes))
			return *verdict, nil
		}
		if elapsed > maxElapsed {
			maxElapsed = elapsed
		}
		if peakMB > maxPeakMB {
			maxPeakMB = peakMB
		}
	}

	result := pmodel.ExecutionResult{
		ID:              attempt.ID,
		Status:          pmodel.StatusOK,
		TimeUsedMS:      pmodel.Int64Ptr(int64(maxElapsed * 1000)),
		MemoryUsedBytes: pmodel.Int64Ptr(int64(maxPeakMB * 1024 * 1024)),
	}
	e.metrics.ObserveAttempt(ctx, string(attempt.Language), string(result.Status),
		*result.TimeUsedMS, *result.MemoryUsedBytes)
	return result, nil
}

// compile runs the compilation stage. A nil verdict means the stage passed
// (or the language needs none) and the test runner may proceed; a non-nil
// verdict terminates the attempt without running any user test code.
func (e *AttemptExecutor) compile(ctx context.Context, attempt pmodel.Attempt, prof profile.Profile, vars profile.Vars) (*pmodel.ExecutionResult, error) {
	if !prof.CompileEnabled() {
		return nil, nil
	}

	vars.MemoryMB = compileMemoryLimitMB
	argv, err := profile.ExpandCommand(prof.CompileTpl, vars)
	if err != nil {
		return nil, err
	}

	res := e.sup.Supervise(ctx, sandbox.Command{
		Argv:             argv,
		TimeLimitSeconds: compileTimeLimitSeconds,
		MemoryLimitMB:    compileMemoryLimitMB,
		IsCompilation:    true,
		Env:              profile.BuildEnv(prof, compileMemoryLimitMB),
		Dir:              vars.WorkDir,
	})
	if res.Killed && res.KillReason == sandbox.KillReasonCanceled {
		return nil, canceledErr(ctx)
	}

	ok := res.ReturnCode == 0 && !res.MemoryExceeded && !res.TimeExceeded
	e.metrics.ObserveCompile(ctx, string(attempt.Language), ok, int64(res.Elapsed*1000))
	if ok {
		return nil, nil
	}

	status := pmodel.StatusCompilationError
	if res.MemoryExceeded {
		status = pmodel.StatusMemoryLimitExceeded
	} else if res.TimeExceeded {
		status = pmodel.StatusTimeLimitExceeded
	}
	logger.Info(ctx, "compilation failed",
		zap.String("status", string(status)), zap.Int("return_code", res.ReturnCode))
	return &pmodel.ExecutionResult{
		ID:             attempt.ID,
		Status:         status,
		ErrorTraceback: pmodel.StringPtr(res.Stderr),
	}, nil
}

// runTest runs one test case. A nil verdict with nil error means the test
// passed; the returned elapsed/peak feed the running maxima.
func (e *AttemptExecutor) runTest(ctx context.Context, attempt pmodel.Attempt, prof profile.Profile, vars profile.Vars, idx int, tc pmodel.TestCase) (*pmodel.ExecutionResult, float64, float64, error) {
	vars.MemoryMB = attempt.MemoryLimitMegabytes
	argv, err := profile.ExpandCommand(prof.RunTpl, vars)
	if err != nil {
		return nil, 0, 0, err
	}

	stdin := []byte(strings.Join(tc.Input, "\n") + "\n")
	res := e.sup.Supervise(ctx, sandbox.Command{
		Argv:             argv,
		Stdin:            stdin,
		TimeLimitSeconds: attempt.TimeLimitSeconds,
		MemoryLimitMB:    attempt.MemoryLimitMegabytes,
		Env:              profile.BuildEnv(prof, attempt.MemoryLimitMegabytes),
		Dir:              vars.WorkDir,
	})
	if res.Killed && res.KillReason == sandbox.KillReasonCanceled {
		return nil, 0, 0, canceledErr(ctx)
	}

	cls := classifyRun(res, attempt.MemoryLimitMegabytes)
	if cls.Status != "" {
		e.metrics.ObserveTest(ctx, string(attempt.Language), idx, false, int64(res.Elapsed*1000))
		return failVerdict(attempt.ID, idx, cls), 0, 0, nil
	}

	actual := normalizeOutput(res.Stdout)
	expected := normalizeLines(tc.Expected)
	if actual != expected {
		e.metrics.ObserveTest(ctx, string(attempt.Language), idx, false, int64(res.Elapsed*1000))
		return &pmodel.ExecutionResult{
			ID:               attempt.ID,
			Status:           pmodel.StatusWrongAnswer,
			FailedTestNumber: pmodel.IntPtr(idx),
			SourceCodeOutput: pmodel.StringPtr(res.Stdout),
			ExpectedOutput:   pmodel.StringPtr(strings.Join(tc.Expected, "\n")),
		}, 0, 0, nil
	}

	e.metrics.ObserveTest(ctx, string(attempt.Language), idx, true, int64(res.Elapsed*1000))
	return nil, res.Elapsed, res.PeakMB, nil
}

// failVerdict maps a classification onto the wire result for test idx.
func failVerdict(attemptID int64, idx int, cls classification) *pmodel.ExecutionResult {
	result := &pmodel.ExecutionResult{
		ID:               attemptID,
		Status:           cls.Status,
		FailedTestNumber: pmodel.IntPtr(idx),
	}
	if cls.ErrorTraceback != "" {
		result.ErrorTraceback = pmodel.StringPtr(cls.ErrorTraceback)
	}
	if cls.Output != "" {
		result.SourceCodeOutput = pmodel.StringPtr(cls.Output)
	}
	if cls.hasTimeMetric {
		result.TimeUsedMS = pmodel.Int64Ptr(int64(cls.TimeUsedSec * 1000))
	}
	if cls.hasMemoryMetric {
		result.MemoryUsedBytes = pmodel.Int64Ptr(cls.MemoryUsedBytes)
	}
	return result
}

// normalizeOutput canonicalizes program output for comparison: lines are
// trimmed, empty lines dropped, and the remainder joined with single spaces.
// The normalization is idempotent.
func normalizeOutput(s string) string {
	return normalizeLines(strings.Split(s, "\n"))
}

func normalizeLines(lines []string) string {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, " ")
}

func canceledErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return appErr.Wrap(err, appErr.Timeout)
	}
	return appErr.New(appErr.Timeout)
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
