package rigging

import (
	"context"

	"RigForge/internal/host"
	"RigForge/internal/invoke"
)

// HostRecovery 通过宿主的撤销机制回滚失败调用留下的半成品修改。
type HostRecovery struct {
	session host.Session
}

var _ invoke.RecoveryHandler = (*HostRecovery)(nil)

// NewHostRecovery 创建基于撤销块的补偿策略。
func NewHostRecovery(session host.Session) *HostRecovery {
	return &HostRecovery{session: session}
}

// Recover 回滚最近一个撤销块。调度器保证每次执行都包在撤销块内，
// 因此这里只需要触发一次撤销。
func (r *HostRecovery) Recover(ctx context.Context, _ *invoke.Invocation, _ error) error {
	if r == nil || r.session == nil {
		return nil
	}
	return r.session.Undo(ctx)
}
