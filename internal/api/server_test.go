package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"RigForge/internal/auth"
	"RigForge/internal/invoke"
	"RigForge/internal/library"
	"RigForge/pkg/schema"
)

const orientYAML = `orient_joints:
  displayName: Orient Joints
  category: Skeleton
  description: Re-orients the selected joint chain.
  attrs:
    - name: joints
      type: nodelist
    - name: aimAxis
      type: option
      value: 0
      options: ["X", "Y", "Z"]
`

func newTestServer(t *testing.T) (*Server, *invoke.Service) {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "actions.yaml"), []byte(orientYAML), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}
	lib := library.New(schema.DefaultTypes(), dir)
	if err := lib.Load(); err != nil {
		t.Fatalf("load library: %v", err)
	}

	queue := invoke.NewMemoryQueue(16)
	t.Cleanup(func() { _ = queue.Close() })
	svc := invoke.NewService(invoke.NewMemoryStore(), queue, lib, nil, 3)

	return NewServer(":0", svc, lib, nil), svc
}

func TestSubmitInvocation(t *testing.T) {
	server, _ := newTestServer(t)
	routes := server.Routes()

	body := `{"action_id":"orient_joints","overrides":{"aimAxis":1}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invocations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: got %d want %d: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	var inv invoke.Invocation
	if err := json.Unmarshal(rec.Body.Bytes(), &inv); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if inv.ID == "" || inv.ActionID != "orient_joints" {
		t.Fatalf("unexpected invocation: %+v", inv)
	}
	if inv.Status != invoke.StatusPending {
		t.Fatalf("unexpected status: %s", inv.Status)
	}
}

func TestSubmitUnknownActionRejected(t *testing.T) {
	server, _ := newTestServer(t)
	routes := server.Routes()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invocations", strings.NewReader(`{"action_id":"mirror_weights"}`))
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestInvocationDetail(t *testing.T) {
	server, svc := newTestServer(t)
	routes := server.Routes()

	created, err := svc.Submit(context.Background(), invoke.SubmitRequest{ActionID: "orient_joints"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/invocations/"+created.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d: %s", rec.Code, rec.Body.String())
	}
	var got invoke.Invocation
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("unexpected id: got %q want %q", got.ID, created.ID)
	}

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/invocations/missing", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})

	t.Run("invalid method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/invocations/"+created.ID, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})
}

func TestListAndStats(t *testing.T) {
	server, svc := newTestServer(t)
	routes := server.Routes()

	for i := 0; i < 3; i++ {
		if _, err := svc.Submit(context.Background(), invoke.SubmitRequest{ActionID: "orient_joints"}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/invocations?action=orient_joints&limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d: %s", rec.Code, rec.Body.String())
	}
	var listed []*invoke.Invocation
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("unexpected list length: %d", len(listed))
	}

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected stats status: got %d", rec.Code)
	}
	var stats invoke.InvocationStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	t.Run("bad limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/invocations?limit=ten", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("bad status filter", func(t *testing.T) {
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/invocations?status=exploded", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})
}

func TestActionEndpoints(t *testing.T) {
	server, _ := newTestServer(t)
	routes := server.Routes()

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/actions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d", rec.Code)
	}
	var summaries []actionSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decode summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ID != "orient_joints" {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/actions/orient_joints", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected detail status: got %d", rec.Code)
	}
	var view actionView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.DisplayName != "Orient Joints" || len(view.Attributes) != 2 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Attributes[1].Name != "aimAxis" || len(view.Attributes[1].Options) != 3 {
		t.Fatalf("unexpected attribute metadata: %+v", view.Attributes[1])
	}

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/actions/mirror_weights", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestAuthGuardsRoutes(t *testing.T) {
	server, _ := newTestServer(t)
	authSvc, err := auth.NewService(auth.Config{
		Mode: auth.ModeStatic,
		Tokens: []auth.TokenConfig{
			{Token: "pipeline-token", Name: "pipeline", Permissions: []string{auth.PermissionSubmit, auth.PermissionRead}},
		},
	})
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	WithAuth(authSvc)(server)
	routes := server.Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/actions", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/actions", nil)
	req.Header.Set("Authorization", "Bearer pipeline-token")
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics should stay open, status = %d", rec.Code)
	}
}
