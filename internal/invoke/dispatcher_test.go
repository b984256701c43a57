package invoke

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	xerrors "RigForge/internal/errors"
	"RigForge/internal/host"
	"RigForge/internal/library"
	"RigForge/pkg/schema"
)

const bindSkinFixture = `bind_skin:
  displayName: Bind Skin
  category: Skinning
  attrs:
    - name: meshes
      type: nodelist
      required: true
    - name: joints
      type: nodelist
    - name: maxInfluences
      type: int
      value: 4
      min: 1
      max: 30
`

func newTestLibrary(t *testing.T) *library.Library {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bind_skin.yaml"), []byte(bindSkinFixture), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	lib := library.New(schema.DefaultTypes(), dir)
	if err := lib.Load(); err != nil {
		t.Fatalf("load library: %v", err)
	}
	return lib
}

func newTestSession() *host.SimulatedSession {
	return host.NewSimulatedSession(
		"|rig|geo|body_geo",
		"|rig|joints|root",
	)
}

type fakeExecutor struct {
	id    string
	calls atomic.Int32
	fn    func(ctx context.Context, params *schema.ParameterSet, session host.Session) (*ExecutionResult, error)
}

func (f *fakeExecutor) ActionID() string { return f.id }

func (f *fakeExecutor) Execute(ctx context.Context, params *schema.ParameterSet, session host.Session) (*ExecutionResult, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, params, session)
	}
	return &ExecutionResult{AffectedNodes: params.Nodes("meshes")}, nil
}

type undoRecorder struct {
	calls atomic.Int32
}

func (u *undoRecorder) Recover(context.Context, *Invocation, error) error {
	u.calls.Add(1)
	return nil
}

func newTestDispatcher(t *testing.T, executor Executor, opts ...DispatcherOption) (*Dispatcher, *Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	queue := NewMemoryQueue(64)
	t.Cleanup(func() { queue.Close() })

	lib := newTestLibrary(t)
	executors := NewExecutorRegistry()
	if executor != nil {
		if err := executors.Register(executor); err != nil {
			t.Fatalf("register executor: %v", err)
		}
	}
	dispatcher := NewDispatcher(executors, lib, newTestSession(), schema.DefaultTypes(), store, queue, queue, opts...)
	service := NewService(store, queue, lib, nil, 3)
	return dispatcher, service, store
}

func TestDispatcherExecutesInvocation(t *testing.T) {
	executor := &fakeExecutor{id: "bind_skin"}
	dispatcher, service, store := newTestDispatcher(t, executor)
	ctx := context.Background()

	inv, err := service.Submit(ctx, SubmitRequest{
		ActionID:  "bind_skin",
		Overrides: map[string]any{"meshes": []string{"body_geo"}, "maxInfluences": 5},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := dispatcher.handle(ctx, inv.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := store.Get(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", got.Status, got.LastError)
	}
	if got.Params["maxInfluences"] != 5 {
		t.Fatalf("params snapshot missing override: %v", got.Params)
	}
	if got.Result == nil || len(got.Result.AffectedNodes) == 0 {
		t.Fatalf("result missing affected nodes: %+v", got.Result)
	}
	if executor.calls.Load() != 1 {
		t.Fatalf("executor should run exactly once, ran %d", executor.calls.Load())
	}
}

func TestDispatcherRejectsInvalidParameters(t *testing.T) {
	executor := &fakeExecutor{id: "bind_skin"}
	dispatcher, service, store := newTestDispatcher(t, executor)
	ctx := context.Background()

	inv, err := service.Submit(ctx, SubmitRequest{
		ActionID:  "bind_skin",
		Overrides: map[string]any{"meshes": []string{"body_geo"}, "maxInfluences": 50},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := dispatcher.handle(ctx, inv.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, _ := store.Get(ctx, inv.ID)
	if got.Status != StatusFailed || got.ErrorCode != string(schema.CodeInvalidValue) {
		t.Fatalf("expected INVALID_VALUE failure, got %s/%s", got.Status, got.ErrorCode)
	}
	if executor.calls.Load() != 0 {
		t.Fatal("executor must not run for invalid parameters")
	}
}

func TestDispatcherFailsWithoutExecutor(t *testing.T) {
	dispatcher, service, store := newTestDispatcher(t, nil)
	ctx := context.Background()

	inv, err := service.Submit(ctx, SubmitRequest{
		ActionID:  "bind_skin",
		Overrides: map[string]any{"meshes": []string{"body_geo"}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := dispatcher.handle(ctx, inv.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, _ := store.Get(ctx, inv.ID)
	if got.Status != StatusFailed || got.ErrorCode != string(CodeNoExecutor) {
		t.Fatalf("expected NO_EXECUTOR_REGISTERED failure, got %s/%s", got.Status, got.ErrorCode)
	}
}

func TestDispatcherContainsExecutorPanic(t *testing.T) {
	executor := &fakeExecutor{
		id: "bind_skin",
		fn: func(context.Context, *schema.ParameterSet, host.Session) (*ExecutionResult, error) {
			panic("deformer stack corrupted")
		},
	}
	recovery := &undoRecorder{}
	dispatcher, service, store := newTestDispatcher(t, executor, WithRecoveryHandler(recovery))
	ctx := context.Background()

	inv, err := service.Submit(ctx, SubmitRequest{
		ActionID:  "bind_skin",
		Overrides: map[string]any{"meshes": []string{"body_geo"}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := dispatcher.handle(ctx, inv.ID); err != nil {
		t.Fatalf("handle should absorb the panic: %v", err)
	}

	got, _ := store.Get(ctx, inv.ID)
	if got.Status != StatusFailed || got.ErrorCode != string(CodeExecutionError) {
		t.Fatalf("expected EXECUTION_ERROR failure, got %s/%s", got.Status, got.ErrorCode)
	}
	if recovery.calls.Load() != 1 {
		t.Fatalf("recovery handler should run once, ran %d", recovery.calls.Load())
	}
}

func TestDispatcherRetriesHostFailures(t *testing.T) {
	var attempts atomic.Int32
	executor := &fakeExecutor{
		id: "bind_skin",
		fn: func(_ context.Context, params *schema.ParameterSet, _ host.Session) (*ExecutionResult, error) {
			if attempts.Add(1) == 1 {
				return nil, xerrors.New(xerrors.CodeHostFailure, "command port connection reset")
			}
			return &ExecutionResult{AffectedNodes: params.Nodes("meshes")}, nil
		},
	}
	dispatcher, service, store := newTestDispatcher(t, executor)
	ctx := context.Background()

	inv, err := service.Submit(ctx, SubmitRequest{
		ActionID:  "bind_skin",
		Overrides: map[string]any{"meshes": []string{"body_geo"}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// First pass fails with a retryable error and requeues the invocation.
	if err := dispatcher.handle(ctx, inv.ID); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	got, _ := store.Get(ctx, inv.ID)
	if got.Status != StatusFailed || got.ErrorCode != string(xerrors.CodeHostFailure) {
		t.Fatalf("expected retryable failure, got %s/%s", got.Status, got.ErrorCode)
	}

	if err := dispatcher.handle(ctx, inv.ID); err != nil {
		t.Fatalf("second handle: %v", err)
	}
	got, _ = store.Get(ctx, inv.ID)
	if got.Status != StatusSucceeded {
		t.Fatalf("expected success after retry, got %s (%s)", got.Status, got.LastError)
	}
	if got.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", got.Attempts)
	}
}

func TestDispatcherDrainsQueuedInvocations(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	executor := &fakeExecutor{id: "bind_skin", fn: func(_ context.Context, params *schema.ParameterSet, _ host.Session) (*ExecutionResult, error) {
		time.Sleep(time.Millisecond)
		return &ExecutionResult{AffectedNodes: params.Nodes("meshes")}, nil
	}}
	dispatcher, service, _ := newTestDispatcher(t, executor, WithWorkerCount(4))

	go func() {
		if err := dispatcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("dispatcher exited: %v", err)
		}
	}()

	total := 25
	for i := 0; i < total; i++ {
		if _, err := service.Submit(ctx, SubmitRequest{
			ID:        fmt.Sprintf("inv-%d", i),
			ActionID:  "bind_skin",
			Overrides: map[string]any{"meshes": []string{"body_geo"}},
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.calls.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("invocations not processed in time, done %d", executor.calls.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestDispatcherCancelledExecution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executor := &fakeExecutor{id: "bind_skin", fn: func(execCtx context.Context, _ *schema.ParameterSet, _ host.Session) (*ExecutionResult, error) {
		cancel()
		<-execCtx.Done()
		return nil, execCtx.Err()
	}}

	store := NewMemoryStore()
	queue := NewMemoryQueue(64)
	t.Cleanup(func() { queue.Close() })
	lib := newTestLibrary(t)
	executors := NewExecutorRegistry()
	if err := executors.Register(executor); err != nil {
		t.Fatalf("register executor: %v", err)
	}
	session := newTestSession()
	dispatcher := NewDispatcher(executors, lib, session, schema.DefaultTypes(), store, queue, queue)
	service := NewService(store, queue, lib, nil, 3)

	inv, err := service.Submit(context.Background(), SubmitRequest{
		ActionID:  "bind_skin",
		Overrides: map[string]any{"meshes": []string{"body_geo"}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := dispatcher.handle(ctx, inv.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}

	stored, err := store.Get(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", stored.Status, StatusFailed)
	}
	if stored.ErrorCode != string(xerrors.CodeCancelled) {
		t.Fatalf("error code = %s, want %s", stored.ErrorCode, xerrors.CodeCancelled)
	}
	if executor.calls.Load() != 1 {
		t.Fatalf("cancellation must not be retried, calls = %d", executor.calls.Load())
	}

	// The undo chunk opened around the execution must have been closed even
	// though the context was already cancelled.
	if err := session.OpenUndoChunk(context.Background(), "bind_skin"); err != nil {
		t.Fatalf("undo chunk left open: %v", err)
	}
	if err := session.CloseUndoChunk(context.Background()); err != nil {
		t.Fatalf("close chunk: %v", err)
	}
}
