package host

import "context"

// BindRequest 描述一次蒙皮绑定所需的全部参数。字段与 bind_skin
// 动作定义中的属性一一对应，顺序与含义由 schema 层保证。
type BindRequest struct {
	Meshes                 []string
	Joints                 []string
	BindMethod             int
	SkinMethod             int
	NormalizeWeights       int
	WeightDistribution     int
	MaxInfluences          int
	MaintainMaxInfluence   bool
	DropoffRate            float64
	RemoveUnusedInfluences bool
}

// BindResult 是宿主完成绑定后返回的结果。
type BindResult struct {
	SkinCluster   string
	Influences    []string
	AffectedNodes []string
}

// Session 定义了与宿主应用交互的统一接口。所有方法都可能跨进程调用，
// 因此必须携带 context 以便取消与超时。
type Session interface {
	// ResolveNodes 把选择器展开为场景中的具体节点路径。
	ResolveNodes(ctx context.Context, selectors []string) ([]string, error)
	// ApplyBind 在宿主中执行蒙皮绑定并返回生成的节点。
	ApplyBind(ctx context.Context, req BindRequest) (*BindResult, error)
	// OpenUndoChunk 打开一个撤销块，使后续修改可以整体回滚。
	OpenUndoChunk(ctx context.Context, name string) error
	// CloseUndoChunk 关闭当前撤销块。
	CloseUndoChunk(ctx context.Context) error
	// Undo 回滚最近一个已关闭的撤销块。
	Undo(ctx context.Context) error
	// Close 释放底层连接。
	Close() error
}
