package library

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"RigForge/pkg/logger"
)

const debounceWindow = 200 * time.Millisecond

// Watch 监听定义目录中的变化并触发整体重载。重载失败只记录日志，
// 当前注册表继续生效。函数会阻塞到 ctx 被取消。
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return err
	}

	log := logger.Named("library")
	last := make(map[string]time.Time)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if !isDefinitionFile(event.Name) {
				continue
			}
			now := time.Now()
			if t, ok := last[event.Name]; ok && now.Sub(t) < debounceWindow {
				continue
			}
			last[event.Name] = now

			if err := l.Load(); err != nil {
				log.Error("动作库重载失败，沿用旧注册表", "file", event.Name, "error", err)
				continue
			}
			log.Info("动作库已重载", "file", event.Name, "actions", l.Registry().Len())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("监听定义目录出错", "error", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func isDefinitionFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
