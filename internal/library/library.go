// Package library owns the set of action definitions loaded from disk. It
// builds a frozen registry at startup and can rebuild it when definition
// files change, swapping the active registry atomically between invocations.
package library

import (
	"fmt"
	"sync/atomic"

	"RigForge/pkg/logger"
	"RigForge/pkg/schema"
)

// Library 管理从磁盘加载的动作定义。正在执行的调用始终持有加载时
// 获取的注册表指针，热重载只影响之后的调用。
type Library struct {
	loader  *schema.Loader
	dir     string
	current atomic.Pointer[schema.Registry]
}

// New 创建一个以 dir 为定义目录的动作库。
func New(types *schema.TypeRegistry, dir string) *Library {
	return &Library{
		loader: schema.NewLoader(types),
		dir:    dir,
	}
}

// Load 重新加载定义目录并构建一个冻结的注册表。校验失败以单个定义为
// 边界：坏定义记日志后跳过，不影响同批其余定义；重复的动作标识保留
// 先注册的版本。只有目录本身不可读时才返回错误并保持当前注册表不变。
func (l *Library) Load() error {
	defs, loadErr := l.loader.LoadDir(l.dir)
	if defs == nil {
		return fmt.Errorf("加载动作目录 %s 失败: %w", l.dir, loadErr)
	}

	log := logger.Named("library")
	if loadErr != nil {
		log.Warn("部分动作定义被拒绝，已跳过", "dir", l.dir, "error", loadErr)
	}

	registry := schema.NewRegistry()
	for _, def := range defs {
		if err := registry.Add(def); err != nil {
			log.Warn("动作定义被拒绝，保留先注册的版本", "action", def.ID, "error", err)
		}
	}
	registry.Freeze()

	l.current.Store(registry)
	return nil
}

// Registry 返回当前生效的注册表。调用方应当在一次调用的生命周期内
// 复用同一个返回值，避免执行中途看到不同版本的定义。
func (l *Library) Registry() *schema.Registry {
	return l.current.Load()
}

// Dir 返回定义目录路径。
func (l *Library) Dir() string {
	return l.dir
}
