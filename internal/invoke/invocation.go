package invoke

import (
	stdErrors "errors"

	xerrors "RigForge/internal/errors"
)

// Status 表示调用在生命周期中的状态。
type Status string

const (
	StatusPending    Status = "pending"
	StatusValidating Status = "validating"
	StatusRunning    Status = "running"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// ExecutionResult 保存一次动作执行的结果。
type ExecutionResult struct {
	AffectedNodes []string       `json:"affected_nodes,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	Observations  string         `json:"observations,omitempty"`
}

// Invocation 描述了排队执行的动作调用。Overrides 是提交方给出的原始
// 覆盖值，Params 是校验通过后落盘的完整参数快照。
type Invocation struct {
	ID         string           `json:"id"`
	ActionID   string           `json:"action_id"`
	Preset     string           `json:"preset,omitempty"`
	Overrides  map[string]any   `json:"overrides,omitempty"`
	Params     map[string]any   `json:"params,omitempty"`
	Status     Status           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

var (
	// ErrInvocationNotFound 表示指定的调用不存在。
	ErrInvocationNotFound = xerrors.New(CodeInvocationNotFound, "invocation not found")
	// ErrInvocationConflict 表示调用在当前状态下无法进行所请求的操作。
	ErrInvocationConflict = xerrors.New(CodeInvocationConflict, "invocation conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrInvocationCompleted 表示调用已经成功完成。
	ErrInvocationCompleted = xerrors.New(CodeInvocationCompleted, "invocation already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrInvocationExhausted 表示调用的重试次数已经耗尽。
	ErrInvocationExhausted = xerrors.New(CodeInvocationExhausted, "invocation retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
	// ErrNoExecutor 表示动作没有登记可用的执行器。
	ErrNoExecutor = xerrors.New(CodeNoExecutor, "no executor registered for action")
)

const (
	CodeInvocationNotFound  xerrors.Code = "INVOCATION_NOT_FOUND"
	CodeInvocationConflict  xerrors.Code = "INVOCATION_CONFLICT"
	CodeInvocationCompleted xerrors.Code = "INVOCATION_COMPLETED"
	CodeInvocationExhausted xerrors.Code = "INVOCATION_RETRIES_EXHAUSTED"
	CodeInvocationPublish   xerrors.Code = "INVOCATION_PUBLISH_FAILED"
	CodeNoExecutor          xerrors.Code = "NO_EXECUTOR_REGISTERED"
	CodeExecutionError      xerrors.Code = "EXECUTION_ERROR"
	CodeUndoFailed          xerrors.Code = "UNDO_FAILED"
)

func init() {
	xerrors.Register(CodeInvocationNotFound, xerrors.Attributes{
		Message:   "invocation not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInvocationConflict, xerrors.Attributes{
		Message:   "invocation conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInvocationCompleted, xerrors.Attributes{
		Message:   "invocation already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInvocationExhausted, xerrors.Attributes{
		Message:   "invocation retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeInvocationPublish, xerrors.Attributes{
		Message:   "failed to publish invocation",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeNoExecutor, xerrors.Attributes{
		Message:   "no executor registered for action",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeExecutionError, xerrors.Attributes{
		Message:   "action execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeUndoFailed, xerrors.Attributes{
		Message:   "failed to undo partial changes",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// IsInvocationError 判断错误是否为统一调用错误。
func IsInvocationError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, ErrInvocationNotFound) {
		return target == CodeInvocationNotFound
	}
	if stdErrors.Is(err, ErrInvocationConflict) {
		return target == CodeInvocationConflict
	}
	if stdErrors.Is(err, ErrInvocationCompleted) {
		return target == CodeInvocationCompleted
	}
	if stdErrors.Is(err, ErrInvocationExhausted) {
		return target == CodeInvocationExhausted
	}
	return false
}

func cloneValues(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	cloned := make(map[string]any, len(values))
	for key, value := range values {
		cloned[key] = value
	}
	return cloned
}

// IsValidStatus 检查给定的调用状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusValidating, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal 判断状态是否为终态。
func IsTerminal(status Status) bool {
	return status == StatusSucceeded || status == StatusFailed
}
