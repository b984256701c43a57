package invoke

import "context"

// RecoveryHandler 定义了在调用执行失败时的补偿策略，
// 典型实现通过宿主的撤销机制回滚半成品修改。
type RecoveryHandler interface {
	// Recover 尝试清理失败调用留下的场景改动。
	// 返回错误表示场景可能处于不一致状态，需要人工介入。
	Recover(ctx context.Context, inv *Invocation, cause error) error
}
