// Package presets loads named attribute-override bundles from YAML so
// frequently used parameter combinations can be applied by name when
// submitting an invocation.
package presets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider 定义预设查询的通用接口。
type Provider interface {
	Lookup(actionID, name string) (Preset, bool)
	Names(actionID string) []string
}

// Preset 描述一组可以按名字应用的属性覆盖值。
type Preset struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Overrides   map[string]any `yaml:"overrides"`
}

// StaticProvider 从 YAML 文件加载预设并常驻内存。
type StaticProvider struct {
	byAction map[string][]Preset
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider 根据按动作分组的预设表创建实例。
func NewStaticProvider(byAction map[string][]Preset) *StaticProvider {
	if byAction == nil {
		byAction = make(map[string][]Preset)
	}
	return &StaticProvider{byAction: byAction}
}

// LoadStaticProvider 从 YAML 文件加载预设。文件顶层是
// 动作标识到预设列表的映射。
func LoadStaticProvider(path string) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("预设文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析预设路径失败: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取预设文件失败: %w", err)
	}

	var byAction map[string][]Preset
	if err := yaml.Unmarshal(data, &byAction); err != nil {
		return nil, fmt.Errorf("解析预设文件失败: %w", err)
	}

	for actionID, list := range byAction {
		for _, preset := range list {
			if strings.TrimSpace(preset.Name) == "" {
				return nil, fmt.Errorf("动作 %s 存在未命名的预设", actionID)
			}
		}
	}
	return NewStaticProvider(byAction), nil
}

// Lookup 返回指定动作下某个名字的预设。
func (p *StaticProvider) Lookup(actionID, name string) (Preset, bool) {
	if p == nil {
		return Preset{}, false
	}
	for _, preset := range p.byAction[actionID] {
		if preset.Name == name {
			return preset, true
		}
	}
	return Preset{}, false
}

// Names 返回指定动作下全部预设的名字，保持文件中的顺序。
func (p *StaticProvider) Names(actionID string) []string {
	if p == nil {
		return nil
	}
	list := p.byAction[actionID]
	names := make([]string, 0, len(list))
	for _, preset := range list {
		names = append(names, preset.Name)
	}
	return names
}

// Merge 把预设作为基础值、调用方覆盖值优先，合成最终的覆盖表。
func Merge(preset Preset, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(preset.Overrides)+len(overrides))
	for name, value := range preset.Overrides {
		merged[name] = value
	}
	for name, value := range overrides {
		merged[name] = value
	}
	return merged
}
