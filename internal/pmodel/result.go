package pmodel

// Status is the single classification returned per attempt.
type Status string

const (
	StatusOK                  Status = "OK"
	StatusCompilationError    Status = "Compilation error"
	StatusWrongAnswer         Status = "Wrong answer"
	StatusTimeLimitExceeded   Status = "Time-limit exceeded"
	StatusMemoryLimitExceeded Status = "Memory limit exceeded"
	StatusOutputLimitExceeded Status = "Output limit exceeded"
	StatusRuntimeError        Status = "Run-time error"
)

// ExecutionResult is the verdict published to the result exchange.
// Optional fields serialize as JSON null when absent.
type ExecutionResult struct {
	ID               int64   `json:"id"`
	Status           Status  `json:"status"`
	TimeUsedMS       *int64  `json:"time_used_ms"`
	MemoryUsedBytes  *int64  `json:"memory_used_bytes"`
	ErrorTraceback   *string `json:"error_traceback"`
	FailedTestNumber *int    `json:"failed_test_number"`
	SourceCodeOutput *string `json:"source_code_output"`
	ExpectedOutput   *string `json:"expected_output"`
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }
