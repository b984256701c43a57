package invoke

import (
	"context"

	xerrors "RigForge/internal/errors"
)

// Store 抽象了调用状态的持久化接口。
type Store interface {
	Create(ctx context.Context, inv *Invocation) error
	Get(ctx context.Context, id string) (*Invocation, error)
	Claim(ctx context.Context, id string) (*Invocation, error)
	MarkRunning(ctx context.Context, id string, params map[string]any) error
	MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Invocation, error)
	Stats(ctx context.Context, opts ListOptions) (InvocationStats, error)
	Close() error
}
