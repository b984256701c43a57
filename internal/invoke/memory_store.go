package invoke

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "RigForge/internal/errors"
)

// MemoryStore 以内存方式保存调用状态，主要用于测试与单机模式。
type MemoryStore struct {
	mu          sync.RWMutex
	invocations map[string]*Invocation
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{invocations: make(map[string]*Invocation)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, inv *Invocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "invocation 不能为空")
	}
	if inv.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "调用 ID 不能为空")
	}
	if _, ok := m.invocations[inv.ID]; ok {
		return ErrInvocationConflict
	}
	now := time.Now().Unix()
	if inv.CreatedAt == 0 {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now
	m.invocations[inv.ID] = cloneInvocation(inv)
	return nil
}

// Get 返回调用。
func (m *MemoryStore) Get(_ context.Context, id string) (*Invocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invocations[id]
	if !ok {
		return nil, ErrInvocationNotFound
	}
	return cloneInvocation(inv), nil
}

// Claim 将调用转入校验阶段并累加尝试次数。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Invocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invocations[id]
	if !ok {
		return nil, ErrInvocationNotFound
	}
	switch inv.Status {
	case StatusSucceeded:
		return cloneInvocation(inv), ErrInvocationCompleted
	case StatusValidating, StatusRunning:
		return cloneInvocation(inv), ErrInvocationConflict
	}
	if inv.Attempts >= inv.MaxRetries {
		return cloneInvocation(inv), ErrInvocationExhausted
	}
	inv.Status = StatusValidating
	inv.Attempts++
	inv.LastError = ""
	inv.ErrorCode = ""
	inv.UpdatedAt = time.Now().Unix()
	return cloneInvocation(inv), nil
}

// MarkRunning 在参数校验通过后记录参数快照并转入执行阶段。
func (m *MemoryStore) MarkRunning(_ context.Context, id string, params map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invocations[id]
	if !ok {
		return ErrInvocationNotFound
	}
	if inv.Status != StatusValidating {
		return ErrInvocationConflict
	}
	inv.Status = StatusRunning
	inv.Params = cloneValues(params)
	inv.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invocations[id]
	if !ok {
		return ErrInvocationNotFound
	}
	inv.Status = StatusSucceeded
	inv.Result = &result
	inv.LastError = ""
	inv.ErrorCode = ""
	inv.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记调用失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invocations[id]
	if !ok {
		return ErrInvocationNotFound
	}
	inv.Status = StatusFailed
	inv.LastError = lastError
	inv.ErrorCode = string(code)
	inv.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的调用。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Invocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Invocation, 0, len(m.invocations))
	for _, inv := range m.invocations {
		if !matchesListFilters(inv, opts) {
			continue
		}
		results = append(results, cloneInvocation(inv))
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			if results[i].UpdatedAt == results[j].UpdatedAt {
				if results[i].CreatedAt == results[j].CreatedAt {
					return results[i].ID < results[j].ID
				}
				return results[i].CreatedAt < results[j].CreatedAt
			}
			return results[i].UpdatedAt < results[j].UpdatedAt
		}
		if results[i].UpdatedAt == results[j].UpdatedAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return []*Invocation{}, nil
		}
		results = results[opts.Offset:]
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的调用数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (InvocationStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := InvocationStats{}
	for _, inv := range m.invocations {
		if !matchesListFilters(inv, opts) {
			continue
		}
		stats.Total++
		switch inv.Status {
		case StatusPending:
			stats.Pending++
		case StatusValidating:
			stats.Validating++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
		if inv.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = inv.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (inv.UpdatedAt != 0 && inv.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = inv.UpdatedAt
		}
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func cloneInvocation(inv *Invocation) *Invocation {
	clone := *inv
	if inv.Result != nil {
		resultCopy := *inv.Result
		resultCopy.AffectedNodes = append([]string(nil), inv.Result.AffectedNodes...)
		resultCopy.Output = cloneValues(inv.Result.Output)
		clone.Result = &resultCopy
	}
	clone.Overrides = cloneValues(inv.Overrides)
	clone.Params = cloneValues(inv.Params)
	return &clone
}

func matchesListFilters(inv *Invocation, opts ListOptions) bool {
	if opts.ActionID != "" && inv.ActionID != opts.ActionID {
		return false
	}
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if inv.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.UpdatedGTE > 0 && inv.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && inv.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.HasResult != nil && invocationHasResult(inv) != *opts.HasResult {
		return false
	}
	if opts.Query != "" && !matchesQuery(inv, opts.Query) {
		return false
	}
	return true
}

func invocationHasResult(inv *Invocation) bool {
	if inv == nil || inv.Result == nil {
		return false
	}
	result := inv.Result
	return len(result.AffectedNodes) > 0 || len(result.Output) > 0 || result.Observations != ""
}

func matchesQuery(inv *Invocation, query string) bool {
	query = strings.ToLower(query)
	for _, field := range []string{inv.ID, inv.ActionID, inv.Preset, inv.LastError, inv.ErrorCode} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	if inv.Result != nil {
		if strings.Contains(strings.ToLower(inv.Result.Observations), query) {
			return true
		}
		for _, node := range inv.Result.AffectedNodes {
			if strings.Contains(strings.ToLower(node), query) {
				return true
			}
		}
	}
	return false
}

var _ Store = (*MemoryStore)(nil)
