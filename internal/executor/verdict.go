package executor

import (
	"syscall"

	"codeio/internal/executor/sandbox"
	"codeio/internal/pmodel"
)

// oomRSSFraction: a SIGKILL with peak RSS at or above this share of the
// limit is attributed to the OOM killer rather than the deadline.
const oomRSSFraction = 0.9

// tleSignals are kernel terminations that indicate an exhausted CPU budget
// when memory pressure is absent.
var tleSignals = map[syscall.Signal]bool{
	syscall.SIGXCPU: true,
	syscall.SIGTRAP: true,
	syscall.SIGKILL: true,
	syscall.SIGFPE:  true,
}

// classification is the verdict-relevant reading of one supervisor result.
// An empty Status means the run is clean and output comparison decides.
type classification struct {
	Status          pmodel.Status
	ErrorTraceback  string
	Output          string  // raw stdout, attached for output-limit verdicts
	TimeUsedSec     float64 // wall-clock of the failing run, when pertinent
	MemoryUsedBytes int64   // peak RSS of the failing run, when pertinent
	hasTimeMetric   bool
	hasMemoryMetric bool
}

// classifyRun applies the verdict precedence to one supervisor result.
// First match wins; the flag checks precede the signal checks because the
// supervisor kills runaway writers and OOM offenders with SIGKILL, which
// would otherwise read as a generic crash.
func classifyRun(res sandbox.Result, memoryLimitMB int) classification {
	switch {
	case res.OutputExceeded:
		return classification{Status: pmodel.StatusOutputLimitExceeded, Output: res.Stdout}
	case res.MemoryExceeded:
		return classification{
			Status:          pmodel.StatusMemoryLimitExceeded,
			MemoryUsedBytes: res.PeakBytes(),
			hasMemoryMetric: true,
		}
	case res.TimeExceeded:
		return classification{
			Status:        pmodel.StatusTimeLimitExceeded,
			TimeUsedSec:   res.Elapsed,
			hasTimeMetric: true,
		}
	}

	if res.ReturnCode < 0 {
		return classifySignal(res, memoryLimitMB)
	}
	if res.ReturnCode > 0 || res.Stderr != "" {
		return classification{Status: pmodel.StatusRuntimeError, ErrorTraceback: res.Stderr}
	}
	return classification{}
}

func classifySignal(res sandbox.Result, memoryLimitMB int) classification {
	sig := syscall.Signal(-res.ReturnCode)
	oomThreshold := oomRSSFraction * float64(memoryLimitMB)

	switch {
	case tleSignals[sig] && res.PeakMB < oomThreshold:
		return classification{Status: pmodel.StatusTimeLimitExceeded, ErrorTraceback: res.Stderr}
	case sig == syscall.SIGSEGV:
		return classification{
			Status:         pmodel.StatusRuntimeError,
			ErrorTraceback: "Segmentation fault\n" + res.Stderr,
		}
	case sig == syscall.SIGKILL && res.PeakMB >= oomThreshold:
		return classification{Status: pmodel.StatusMemoryLimitExceeded, ErrorTraceback: res.Stderr}
	default:
		return classification{Status: pmodel.StatusRuntimeError, ErrorTraceback: res.Stderr}
	}
}
