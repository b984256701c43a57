package rigging

import (
	"context"

	xerrors "RigForge/internal/errors"
	"RigForge/internal/host"
	"RigForge/internal/invoke"
	"RigForge/pkg/schema"
)

// ActionBindSkin 是蒙皮绑定动作的标识，与动作定义文件保持一致。
const ActionBindSkin = "bind_skin"

// BindSkinExecutor 把校验后的绑定参数翻译成宿主的蒙皮命令。
type BindSkinExecutor struct{}

var _ invoke.Executor = (*BindSkinExecutor)(nil)

// NewBindSkinExecutor 创建蒙皮绑定执行器。
func NewBindSkinExecutor() *BindSkinExecutor {
	return &BindSkinExecutor{}
}

// ActionID 返回动作标识。
func (e *BindSkinExecutor) ActionID() string {
	return ActionBindSkin
}

// Execute 执行蒙皮绑定。参数集已由调度器校验，这里直接取值。
func (e *BindSkinExecutor) Execute(ctx context.Context, params *schema.ParameterSet, session host.Session) (*invoke.ExecutionResult, error) {
	req := host.BindRequest{
		Meshes:                 params.Nodes("meshes"),
		Joints:                 params.Nodes("joints"),
		BindMethod:             params.Option("bindMethod"),
		SkinMethod:             params.Option("skinMethod"),
		NormalizeWeights:       params.Option("normalizeWeights"),
		WeightDistribution:     params.Option("weightDistribution"),
		MaxInfluences:          params.Int("maxInfluences"),
		MaintainMaxInfluence:   params.Bool("maintainMaxInfluence"),
		DropoffRate:            params.Float("dropoffRate"),
		RemoveUnusedInfluences: params.Bool("removeUnusedInfluences"),
	}

	result, err := session.ApplyBind(ctx, req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeHostFailure, err, "宿主执行蒙皮绑定失败")
	}

	return &invoke.ExecutionResult{
		AffectedNodes: result.AffectedNodes,
		Output: map[string]any{
			"skin_cluster": result.SkinCluster,
			"influences":   result.Influences,
			"bind_method":  params.OptionLabel("bindMethod"),
			"skin_method":  params.OptionLabel("skinMethod"),
		},
	}, nil
}
