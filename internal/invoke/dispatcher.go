package invoke

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	xerrors "RigForge/internal/errors"
	"RigForge/internal/host"
	"RigForge/internal/library"
	"RigForge/internal/observability/alerting"
	"RigForge/internal/observability/metrics"
	"RigForge/pkg/logger"
	"RigForge/pkg/schema"
)

// Dispatcher 负责从队列消费调用，完成校验并交给执行器执行。
// 宿主一次只能执行一个命令，因此实际执行阶段由互斥锁串行化。
type Dispatcher struct {
	executors   *ExecutorRegistry
	lib         *library.Library
	session     host.Session
	types       *schema.TypeRegistry
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher

	execMu sync.Mutex
}

// DispatcherOption 定义可选配置。
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger 指定日志输出。
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) DispatcherOption {
	return func(d *Dispatcher) {
		if workers > 0 {
			d.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) DispatcherOption {
	return func(d *Dispatcher) {
		d.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) DispatcherOption {
	return func(d *Dispatcher) {
		d.alerter = dispatcher
	}
}

// NewDispatcher 构造 Dispatcher。
func NewDispatcher(executors *ExecutorRegistry, lib *library.Library, session host.Session,
	types *schema.TypeRegistry, store Store, consumer Consumer, producer Producer,
	opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		executors:   executors,
		lib:         lib,
		session:     session,
		types:       types,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.workerCount <= 0 {
		d.workerCount = 1
	}
	return d
}

// Start 启动调用处理循环。
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置调用消费者")
	}
	return d.consumer.Consume(ctx, d.workerCount, d.handle)
}

func (d *Dispatcher) handle(ctx context.Context, invocationID string) error {
	if d.store == nil || d.executors == nil || d.lib == nil || d.session == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "调度器未初始化")
	}
	inv, err := d.store.Claim(ctx, invocationID)
	if err != nil {
		if stdErrors.Is(err, ErrInvocationNotFound) || stdErrors.Is(err, ErrInvocationCompleted) || stdErrors.Is(err, ErrInvocationExhausted) {
			d.logDebug("跳过调用", slog.String("invocation_id", invocationID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取调用失败", slog.Any("error", err), slog.String("invocation_id", invocationID))
		d.emitAlert(ctx, &Invocation{ID: invocationID}, xerrors.CodeStorageFailure, err, "claim")
		return err
	}

	registry := d.lib.Registry()
	if registry == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "动作库尚未加载")
	}

	def, err := registry.Get(inv.ActionID)
	if err != nil {
		return d.handleFailure(ctx, inv, err, 0)
	}

	params, err := schema.NewParameterSet(ctx, def, inv.Overrides, d.types, d.session)
	if err != nil {
		return d.handleFailure(ctx, inv, err, 0)
	}

	executor, err := d.executors.Lookup(inv.ActionID)
	if err != nil {
		return d.handleFailure(ctx, inv, err, 0)
	}

	if err := d.store.MarkRunning(ctx, inv.ID, params.Values()); err != nil {
		logger.L().Error("标记调用运行中失败", slog.Any("error", err), slog.String("invocation_id", inv.ID))
		return err
	}

	started := time.Now()
	result, execErr := d.execute(ctx, inv, executor, params)
	elapsed := time.Since(started)
	if execErr != nil {
		return d.handleFailure(ctx, inv, execErr, elapsed)
	}

	var record ExecutionResult
	if result != nil {
		record = *result
	}
	if err := d.store.MarkSucceeded(ctx, inv.ID, record); err != nil {
		logger.L().Error("标记调用成功状态失败", slog.Any("error", err), slog.String("invocation_id", inv.ID))
		if storeErr := d.store.MarkFailed(ctx, inv.ID, xerrors.CodeStorageFailure, err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("invocation_id", inv.ID))
			return storeErr
		}
		if pubErr := d.producer.Publish(ctx, inv.ID); pubErr != nil {
			return xerrors.Wrap(CodeInvocationPublish, pubErr, fmt.Sprintf("调用 %s 在标记成功失败后重投失败", inv.ID))
		}
		return nil
	}
	metrics.ObserveInvocation(inv.ActionID, string(StatusSucceeded), elapsed)
	logger.Audit().Info("调用执行成功",
		slog.String("invocation_id", inv.ID),
		slog.String("action_id", inv.ActionID),
		slog.Int("affected_nodes", len(record.AffectedNodes)),
	)
	return nil
}

// execute 在串行锁内完成一次宿主执行，执行器 panic 会被转换为错误。
func (d *Dispatcher) execute(ctx context.Context, inv *Invocation, executor Executor, params *schema.ParameterSet) (result *ExecutionResult, err error) {
	d.execMu.Lock()
	defer d.execMu.Unlock()

	if ctx.Err() != nil {
		return nil, xerrors.Wrap(xerrors.CodeCancelled, ctx.Err(), "调用在执行前被取消")
	}

	if chunkErr := d.session.OpenUndoChunk(ctx, inv.ActionID); chunkErr != nil {
		return nil, xerrors.Wrap(xerrors.CodeHostFailure, chunkErr, "打开撤销块失败")
	}
	defer func() {
		if closeErr := d.session.CloseUndoChunk(context.WithoutCancel(ctx)); closeErr != nil {
			logger.L().Error("关闭撤销块失败",
				slog.Any("error", closeErr),
				slog.String("invocation_id", inv.ID))
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = xerrors.New(CodeExecutionError, fmt.Sprintf("执行器 panic: %v", r))
		}
	}()

	result, err = executor.Execute(ctx, params, d.session)
	if err != nil {
		if ctx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeCancelled, err, "调用在执行中被取消")
		}
		if xerrors.CodeOf(err) == xerrors.CodeUnknown {
			return nil, xerrors.Wrap(CodeExecutionError, err, "动作执行失败")
		}
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) handleFailure(ctx context.Context, inv *Invocation, execErr error, elapsed time.Duration) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeExecutionError
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := inv.Attempts >= inv.MaxRetries || !retryable
	metrics.ObserveInvocation(inv.ActionID, string(StatusFailed), elapsed)

	if code == CodeExecutionError && d.recovery != nil {
		if recErr := d.recovery.Recover(ctx, inv, execErr); recErr != nil {
			wrapped := xerrors.Wrap(CodeUndoFailed, recErr, "回滚失败调用的场景改动失败")
			logger.L().Error("执行回滚逻辑失败",
				slog.Any("error", wrapped),
				slog.String("invocation_id", inv.ID))
			d.emitAlert(ctx, inv, CodeUndoFailed, wrapped, "undo")
		}
	}

	if storeErr := d.store.MarkFailed(ctx, inv.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记调用失败状态出错", slog.Any("error", storeErr), slog.String("invocation_id", inv.ID))
		return storeErr
	}
	logger.Audit().Warn("调用执行失败",
		slog.String("invocation_id", inv.ID),
		slog.String("action_id", inv.ActionID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", inv.Attempts),
		slog.Int("max_retries", inv.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	} else if !retryable {
		stage = "non_retryable"
	}
	d.emitAlert(ctx, inv, code, execErr, stage)

	if retryable && !terminal {
		if pubErr := d.producer.Publish(ctx, inv.ID); pubErr != nil {
			return xerrors.Wrap(CodeInvocationPublish, pubErr, fmt.Sprintf("调用 %s 重投失败", inv.ID))
		}
		d.logDebug("调用已重新排队", slog.String("invocation_id", inv.ID), slog.Int("attempts", inv.Attempts))
	}
	return nil
}

func (d *Dispatcher) logDebug(msg string, attrs ...slog.Attr) {
	if d.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		d.logger.Debug(msg, args...)
	}
}

func (d *Dispatcher) emitAlert(ctx context.Context, inv *Invocation, code xerrors.Code, cause error, stage string) {
	if d == nil || d.alerter == nil || inv == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	if !attrs.Alert {
		return
	}
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:         code,
		Message:      message,
		Severity:     attrs.Severity,
		InvocationID: inv.ID,
		ActionID:     inv.ActionID,
		Attempts:     inv.Attempts,
		MaxRetries:   inv.MaxRetries,
		Metadata:     metadata,
		OccurredAt:   time.Now(),
	}
	if err := d.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("invocation_id", inv.ID),
			slog.String("stage", stage),
		)
	}
}
