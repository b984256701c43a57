package host

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SimulatedSession 是一个纯内存实现的宿主会话，维护一张简单的节点表。
// 它用于单机调试与测试场景，不依赖任何外部进程。
type SimulatedSession struct {
	mu       sync.Mutex
	nodes    map[string]struct{}
	counter  int
	chunk    []string
	chunkOn  bool
	lastUndo []string
}

var _ Session = (*SimulatedSession)(nil)

// NewSimulatedSession 创建一个包含初始节点的模拟会话。
func NewSimulatedSession(nodes ...string) *SimulatedSession {
	s := &SimulatedSession{nodes: make(map[string]struct{})}
	for _, n := range nodes {
		s.nodes[n] = struct{}{}
	}
	return s
}

// AddNodes 向模拟场景中追加节点。
func (s *SimulatedSession) AddNodes(nodes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		s.nodes[n] = struct{}{}
	}
}

// ResolveNodes 展开选择器。以 * 结尾的选择器按前缀匹配，
// 其余选择器要求节点确实存在。
func (s *SimulatedSession) ResolveNodes(_ context.Context, selectors []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var resolved []string
	for _, sel := range selectors {
		if prefix, ok := strings.CutSuffix(sel, "*"); ok {
			var matched []string
			for node := range s.nodes {
				if strings.HasPrefix(node, prefix) || strings.HasPrefix(shortName(node), prefix) {
					matched = append(matched, node)
				}
			}
			sort.Strings(matched)
			resolved = append(resolved, matched...)
			continue
		}
		node, ok := s.lookup(sel)
		if !ok {
			return nil, fmt.Errorf("场景中不存在节点 %q", sel)
		}
		resolved = append(resolved, node)
	}
	return resolved, nil
}

func (s *SimulatedSession) lookup(sel string) (string, bool) {
	if _, ok := s.nodes[sel]; ok {
		return sel, true
	}
	for node := range s.nodes {
		if shortName(node) == sel {
			return node, true
		}
	}
	return "", false
}

func shortName(path string) string {
	if idx := strings.LastIndex(path, "|"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// ApplyBind 在模拟场景中登记一个新的 skinCluster 节点。
func (s *SimulatedSession) ApplyBind(_ context.Context, req BindRequest) (*BindResult, error) {
	if len(req.Meshes) == 0 {
		return nil, fmt.Errorf("绑定请求缺少网格")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, node := range append(append([]string{}, req.Meshes...), req.Joints...) {
		if _, ok := s.nodes[node]; !ok {
			return nil, fmt.Errorf("场景中不存在节点 %q", node)
		}
	}

	s.counter++
	cluster := fmt.Sprintf("skinCluster%d", s.counter)
	s.nodes[cluster] = struct{}{}
	if s.chunkOn {
		s.chunk = append(s.chunk, cluster)
	}

	affected := append([]string{cluster}, req.Meshes...)
	affected = append(affected, req.Joints...)
	return &BindResult{
		SkinCluster:   cluster,
		Influences:    append([]string(nil), req.Joints...),
		AffectedNodes: affected,
	}, nil
}

// OpenUndoChunk 开始记录本次操作创建的节点。
func (s *SimulatedSession) OpenUndoChunk(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunkOn {
		return fmt.Errorf("撤销块已经打开")
	}
	s.chunkOn = true
	s.chunk = nil
	return nil
}

// CloseUndoChunk 结束记录并保留节点列表供 Undo 使用。
func (s *SimulatedSession) CloseUndoChunk(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.chunkOn {
		return fmt.Errorf("撤销块尚未打开")
	}
	s.chunkOn = false
	s.lastUndo = s.chunk
	s.chunk = nil
	return nil
}

// Undo 删除最近一个撤销块中创建的节点。
func (s *SimulatedSession) Undo(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, node := range s.lastUndo {
		delete(s.nodes, node)
	}
	s.lastUndo = nil
	return nil
}

// Close 对模拟会话没有额外工作。
func (s *SimulatedSession) Close() error { return nil }
