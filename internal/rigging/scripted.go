package rigging

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	xerrors "RigForge/internal/errors"
	"RigForge/internal/host"
	"RigForge/internal/invoke"
	"RigForge/pkg/schema"
)

// scriptDispatch 在脚本末尾追加统一入口，脚本只需要定义 execute 函数。
const scriptDispatch = `
__out := execute(__host, __params)
`

// ScriptedExecutor 用 Tengo 脚本实现一个动作的执行逻辑，
// 让技术美术无需重新编译服务即可扩展动作库。
type ScriptedExecutor struct {
	actionID string
	compiled *tengo.Compiled
}

var _ invoke.Executor = (*ScriptedExecutor)(nil)

// NewScriptedExecutor 读取并编译脚本。脚本必须定义
// execute(host, params) 函数并返回结果 map。
func NewScriptedExecutor(actionID, scriptPath string) (*ScriptedExecutor, error) {
	if strings.TrimSpace(actionID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "脚本执行器必须声明动作标识")
	}
	src, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err,
			fmt.Sprintf("读取动作脚本 %s 失败", scriptPath))
	}

	script := tengo.NewScript(append(src, []byte(scriptDispatch)...))
	_ = script.Add("__host", map[string]any{})
	_ = script.Add("__params", map[string]any{})
	script.SetImports(stdlib.GetModuleMap(stdlib.AllModuleNames()...))

	compiled, err := script.Compile()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err,
			fmt.Sprintf("编译动作脚本 %s 失败", scriptPath))
	}
	return &ScriptedExecutor{actionID: actionID, compiled: compiled}, nil
}

// ActionID 返回动作标识。
func (e *ScriptedExecutor) ActionID() string {
	return e.actionID
}

// Execute 运行脚本。调度器串行化了执行阶段，因此复用 compiled 是安全的。
func (e *ScriptedExecutor) Execute(ctx context.Context, params *schema.ParameterSet, session host.Session) (*invoke.ExecutionResult, error) {
	paramsObj, err := toScriptObject(params.Values())
	if err != nil {
		return nil, xerrors.Wrap(invoke.CodeExecutionError, err, "参数无法传入脚本")
	}
	if err := e.compiled.Set("__params", paramsObj); err != nil {
		return nil, xerrors.Wrap(invoke.CodeExecutionError, err, "设置脚本参数失败")
	}
	if err := e.compiled.Set("__host", buildHostModule(ctx, session)); err != nil {
		return nil, xerrors.Wrap(invoke.CodeExecutionError, err, "设置脚本宿主接口失败")
	}

	if err := e.compiled.RunContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeCancelled, err, "脚本执行被取消")
		}
		return nil, xerrors.Wrap(invoke.CodeExecutionError, err, "动作脚本执行失败")
	}

	out, ok := e.compiled.Get("__out").Value().(map[string]any)
	if !ok {
		return nil, xerrors.New(invoke.CodeExecutionError, "动作脚本必须返回 map 结果")
	}
	return parseScriptResult(out), nil
}

// buildHostModule 把宿主能力包装成脚本可调用的函数表。
func buildHostModule(ctx context.Context, session host.Session) *tengo.ImmutableMap {
	values := map[string]tengo.Object{}

	values["resolve"] = &tengo.UserFunction{Name: "resolve", Value: func(args ...tengo.Object) (tengo.Object, error) {
		selectors := make([]string, 0, len(args))
		for _, arg := range args {
			switch v := arg.(type) {
			case *tengo.String:
				selectors = append(selectors, v.Value)
			case *tengo.Array:
				for _, item := range v.Value {
					if s, ok := item.(*tengo.String); ok {
						selectors = append(selectors, s.Value)
					}
				}
			}
		}
		nodes, err := session.ResolveNodes(ctx, selectors)
		if err != nil {
			return nil, err
		}
		out := make([]tengo.Object, 0, len(nodes))
		for _, node := range nodes {
			out = append(out, &tengo.String{Value: node})
		}
		return &tengo.Array{Value: out}, nil
	}}

	values["bind"] = &tengo.UserFunction{Name: "bind", Value: func(args ...tengo.Object) (tengo.Object, error) {
		if len(args) != 1 {
			return nil, tengo.ErrWrongNumArguments
		}
		raw, ok := tengo.ToInterface(args[0]).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("bind 需要一个 map 参数")
		}
		req := host.BindRequest{
			Meshes:                 stringSlice(raw["meshes"]),
			Joints:                 stringSlice(raw["joints"]),
			BindMethod:             intValue(raw["bindMethod"]),
			SkinMethod:             intValue(raw["skinMethod"]),
			NormalizeWeights:       intValue(raw["normalizeWeights"]),
			WeightDistribution:     intValue(raw["weightDistribution"]),
			MaxInfluences:          intValue(raw["maxInfluences"]),
			MaintainMaxInfluence:   boolValue(raw["maintainMaxInfluence"]),
			DropoffRate:            floatValue(raw["dropoffRate"]),
			RemoveUnusedInfluences: boolValue(raw["removeUnusedInfluences"]),
		}
		result, err := session.ApplyBind(ctx, req)
		if err != nil {
			return nil, err
		}
		obj, err := toScriptObject(map[string]any{
			"skin_cluster":   result.SkinCluster,
			"influences":     result.Influences,
			"affected_nodes": result.AffectedNodes,
		})
		if err != nil {
			return nil, err
		}
		return obj, nil
	}}

	return &tengo.ImmutableMap{Value: values}
}

func parseScriptResult(out map[string]any) *invoke.ExecutionResult {
	result := &invoke.ExecutionResult{}
	output := make(map[string]any)
	for key, value := range out {
		switch key {
		case "affected_nodes":
			result.AffectedNodes = stringSlice(value)
		case "observations":
			if s, ok := value.(string); ok {
				result.Observations = s
			}
		default:
			output[key] = value
		}
	}
	if len(output) > 0 {
		result.Output = output
	}
	return result
}

// toScriptObject 把 Go 值转换为 Tengo 对象，[]string 需要先展开。
func toScriptObject(value any) (tengo.Object, error) {
	switch v := value.(type) {
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return tengo.FromInterface(items)
	case map[string]any:
		values := make(map[string]tengo.Object, len(v))
		for key, item := range v {
			obj, err := toScriptObject(item)
			if err != nil {
				return nil, err
			}
			values[key] = obj
		}
		return &tengo.Map{Value: values}, nil
	default:
		return tengo.FromInterface(value)
	}
}

func stringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func intValue(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatValue(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func boolValue(value any) bool {
	b, ok := value.(bool)
	return ok && b
}
