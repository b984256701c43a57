package invoke

import (
	"context"
	"fmt"
	"sync"

	xerrors "RigForge/internal/errors"
	"RigForge/internal/host"
	"RigForge/pkg/schema"
)

// Executor 定义了一个动作的执行能力。实现方只会在参数校验通过后被调用，
// 可以信任 params 中的每个值都满足定义的类型与范围约束。
type Executor interface {
	ActionID() string
	Execute(ctx context.Context, params *schema.ParameterSet, session host.Session) (*ExecutionResult, error)
}

// ExecutorRegistry 维护动作标识到执行器的映射。
type ExecutorRegistry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewExecutorRegistry 创建空的执行器注册表。
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{executors: make(map[string]Executor)}
}

// Register 登记一个执行器。同一动作重复登记会被拒绝。
func (r *ExecutorRegistry) Register(exec Executor) error {
	if exec == nil || exec.ActionID() == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行器不能为空且必须声明动作标识")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executors[exec.ActionID()]; ok {
		return xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("动作 %s 已存在执行器", exec.ActionID()))
	}
	r.executors[exec.ActionID()] = exec
	return nil
}

// Lookup 返回指定动作的执行器。
func (r *ExecutorRegistry) Lookup(actionID string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[actionID]
	if !ok {
		return nil, xerrors.New(CodeNoExecutor,
			fmt.Sprintf("动作 %s 没有登记执行器", actionID))
	}
	return exec, nil
}

// ActionIDs 返回全部已登记执行器的动作标识。
func (r *ExecutorRegistry) ActionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.executors))
	for id := range r.executors {
		ids = append(ids, id)
	}
	return ids
}
