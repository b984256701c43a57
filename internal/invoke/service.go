package invoke

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "RigForge/internal/errors"
	"RigForge/internal/library"
	"RigForge/internal/presets"
	"RigForge/pkg/logger"
)

// SubmitRequest 描述提交一次动作调用所需的信息。
type SubmitRequest struct {
	ID        string         `json:"id,omitempty"`
	ActionID  string         `json:"action_id"`
	Preset    string         `json:"preset,omitempty"`
	Overrides map[string]any `json:"overrides,omitempty"`
}

// Service 负责调用的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	lib        *library.Library
	presets    presets.Provider
	maxRetries int
}

// NewService 构造调用服务。presets 可以为 nil，表示不启用预设。
func NewService(store Store, producer Producer, lib *library.Library, provider presets.Provider, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, lib: lib, presets: provider, maxRetries: maxRetries}
}

// Submit 创建一个新的调用并推送到队列。未知动作与未知预设在此处
// 直接拒绝，不会占用队列。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Invocation, error) {
	actionID := strings.TrimSpace(req.ActionID)
	if actionID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "动作标识不能为空")
	}
	if s.store == nil || s.producer == nil || s.lib == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "调用服务未初始化")
	}

	registry := s.lib.Registry()
	if registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "动作库尚未加载")
	}
	if _, err := registry.Get(actionID); err != nil {
		return nil, err
	}

	overrides := cloneValues(req.Overrides)
	presetName := strings.TrimSpace(req.Preset)
	if presetName != "" {
		if s.presets == nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "服务未配置预设")
		}
		preset, ok := s.presets.Lookup(actionID, presetName)
		if !ok {
			return nil, xerrors.New(xerrors.CodeNotFound,
				fmt.Sprintf("动作 %s 不存在预设 %q", actionID, presetName))
		}
		overrides = presets.Merge(preset, overrides)
	}

	invocationID := strings.TrimSpace(req.ID)
	if invocationID != "" {
		inv, err := s.store.Get(ctx, invocationID)
		if err == nil {
			return inv, nil
		}
		if !stdErrors.Is(err, ErrInvocationNotFound) {
			return nil, err
		}
	} else {
		invocationID = uuid.NewString()
	}

	inv := &Invocation{
		ID:         invocationID,
		ActionID:   actionID,
		Preset:     presetName,
		Overrides:  overrides,
		Status:     StatusPending,
		Attempts:   0,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, inv); err != nil {
		if stdErrors.Is(err, ErrInvocationConflict) {
			existing, getErr := s.store.Get(ctx, invocationID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrInvocationNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, invocationID); err != nil {
		logger.L().Error("调用入队失败", slog.Any("error", err), slog.String("invocation_id", invocationID))
		wrapped := xerrors.Wrap(CodeInvocationPublish, err, "发布调用到队列失败")
		_ = s.store.MarkFailed(ctx, invocationID, CodeInvocationPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("调用入队成功",
		slog.String("invocation_id", invocationID),
		slog.String("action_id", actionID),
		slog.String("preset", presetName),
		slog.Int("max_retries", inv.MaxRetries),
	)
	return inv, nil
}

// Get 返回指定调用的状态。
func (s *Service) Get(ctx context.Context, id string) (*Invocation, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "调用存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的调用列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Invocation, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "调用存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.List(ctx, options)
}

// Stats 返回符合过滤条件的调用统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (InvocationStats, error) {
	if s.store == nil {
		return InvocationStats{}, xerrors.New(xerrors.CodeInitializationFailure, "调用存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.Stats(ctx, options)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 在指定超时时间内轮询调用状态。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Invocation, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		inv, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if IsTerminal(inv.Status) {
			return inv, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
