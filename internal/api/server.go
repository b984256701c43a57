package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"RigForge/internal/auth"
	xerrors "RigForge/internal/errors"
	"RigForge/internal/invoke"
	"RigForge/internal/library"
	"RigForge/internal/observability/metrics"
	"RigForge/internal/presets"
	"RigForge/pkg/schema"
)

// Server 负责暴露 REST 接口，供 DCC 插件与命令行工具驱动动作调用。
type Server struct {
	addr    string
	service *invoke.Service
	lib     *library.Library
	presets presets.Provider
	auth    *auth.Service
}

// Option 调整 Server 的可选行为。
type Option func(*Server)

// WithAuth 为 /api/v1 路由挂上认证中间件。传 nil 表示不启用认证。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// NewServer 构造 API 服务实例。presets 可以为 nil。
func NewServer(addr string, service *invoke.Service, lib *library.Library, provider presets.Provider, opts ...Option) *Server {
	server := &Server{addr: addr, service: service, lib: lib, presets: provider}
	for _, opt := range opts {
		opt(server)
	}
	return server
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Routes 返回完整的路由表，测试可以直接挂到 httptest 上。
// 认证中间件只覆盖 /api/v1 路由，/metrics 留给抓取端直连。
func (s *Server) Routes() http.Handler {
	guard := func(h http.Handler) http.Handler { return h }
	if s.auth.Enabled() {
		guard = s.auth.Middleware(auth.MiddlewareConfig{
			RequiredPermissions: map[string][]string{
				http.MethodPost: {auth.PermissionSubmit},
				"*":             {auth.PermissionRead},
			},
		})
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/invocations", guard(instrument("invocations", http.HandlerFunc(s.handleInvocations))))
	mux.Handle("/api/v1/invocations/", guard(instrument("invocation_detail", http.HandlerFunc(s.handleInvocationDetail))))
	mux.Handle("/api/v1/stats", guard(instrument("stats", http.HandlerFunc(s.handleStats))))
	mux.Handle("/api/v1/actions", guard(instrument("actions", http.HandlerFunc(s.handleActions))))
	mux.Handle("/api/v1/actions/", guard(instrument("action_detail", http.HandlerFunc(s.handleActionDetail))))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleSubmit 创建一次新的调用。校验失败的请求不会入队。
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "调用服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req invoke.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	inv, err := s.service.Submit(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(inv)
}

// handleList 查询调用列表，过滤条件全部通过 query string 传入。
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "调用服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts, err := listOptionsFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	invocations, err := s.service.List(r.Context(), opts...)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(invocations)
}

// handleInvocationDetail 查询单个调用。
func (s *Server) handleInvocationDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		http.Error(w, "调用服务未初始化", http.StatusServiceUnavailable)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/invocations/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "缺少调用标识", http.StatusBadRequest)
		return
	}

	inv, err := s.service.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(inv)
}

// handleStats 返回各状态的调用数量汇总。
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		http.Error(w, "调用服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts, err := listOptionsFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stats, err := s.service.Stats(r.Context(), opts...)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// actionSummary 是动作列表里每一项的简要信息。
type actionSummary struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
	Presets     []string `json:"presets,omitempty"`
}

// attributeView 是定义详情里单个属性的对外表示。
type attributeView struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type"`
	Default     any      `json:"default,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Options     []string `json:"options,omitempty"`
	Advanced    bool     `json:"advanced,omitempty"`
	Required    bool     `json:"required,omitempty"`
}

// actionView 是定义详情的对外表示。
type actionView struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Color       [3]float64      `json:"color"`
	Attributes  []attributeView `json:"attributes"`
	Presets     []string        `json:"presets,omitempty"`
}

// handleActions 按注册顺序返回动作列表。
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}

	registry := s.registry()
	if registry == nil {
		http.Error(w, "动作库尚未加载", http.StatusServiceUnavailable)
		return
	}

	ids := registry.IDs()
	summaries := make([]actionSummary, 0, len(ids))
	for _, id := range ids {
		def, err := registry.Get(id)
		if err != nil {
			continue
		}
		summaries = append(summaries, actionSummary{
			ID:          def.ID,
			DisplayName: def.DisplayName,
			Category:    def.Category,
			Description: def.Description,
			Presets:     s.presetNames(def.ID),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summaries)
}

// handleActionDetail 返回单个动作的完整定义，包含属性元数据。
func (s *Server) handleActionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}

	registry := s.registry()
	if registry == nil {
		http.Error(w, "动作库尚未加载", http.StatusServiceUnavailable)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/actions/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "缺少动作标识", http.StatusBadRequest)
		return
	}

	def, err := registry.Get(id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	view := actionView{
		ID:          def.ID,
		DisplayName: def.DisplayName,
		Description: def.Description,
		Category:    def.Category,
		Color:       def.Color,
		Attributes:  make([]attributeView, 0, len(def.Attributes)),
		Presets:     s.presetNames(def.ID),
	}
	for i := range def.Attributes {
		attr := &def.Attributes[i]
		view.Attributes = append(view.Attributes, attributeView{
			Name:        attr.Name,
			Description: attr.Description,
			Type:        attr.Type,
			Default:     attr.Default,
			Min:         attr.Min,
			Max:         attr.Max,
			Options:     attr.Options,
			Advanced:    attr.Advanced,
			Required:    attr.Required,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(view)
}

func (s *Server) registry() *schema.Registry {
	if s.lib == nil {
		return nil
	}
	return s.lib.Registry()
}

func (s *Server) presetNames(actionID string) []string {
	if s.presets == nil {
		return nil
	}
	return s.presets.Names(actionID)
}

// listOptionsFromQuery 把 query string 转换为查询选项。
func listOptionsFromQuery(r *http.Request) ([]invoke.ListOption, error) {
	query := r.URL.Query()
	var opts []invoke.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须是整数")
		}
		opts = append(opts, invoke.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset 必须是整数")
		}
		opts = append(opts, invoke.WithOffset(offset))
	}
	if action := strings.TrimSpace(query.Get("action")); action != "" {
		opts = append(opts, invoke.WithAction(action))
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		parts := strings.Split(raw, ",")
		statuses := make([]invoke.Status, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status := invoke.Status(part)
			if !invoke.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "status 包含未知状态 "+part)
			}
			statuses = append(statuses, status)
		}
		if len(statuses) > 0 {
			opts = append(opts, invoke.WithStatuses(statuses...))
		}
	}
	if raw := query.Get("updated_since"); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, invoke.WithUpdatedSince(ts))
	}
	if raw := query.Get("updated_until"); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, invoke.WithUpdatedUntil(ts))
	}
	if raw := query.Get("has_result"); raw != "" {
		hasResult, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_result 必须是布尔值")
		}
		opts = append(opts, invoke.WithResultPresence(hasResult))
	}
	if order := strings.TrimSpace(query.Get("order")); order != "" {
		switch order {
		case "asc":
			opts = append(opts, invoke.WithSortOrder(invoke.SortByUpdatedAsc))
		case "desc":
			opts = append(opts, invoke.WithSortOrder(invoke.SortByUpdatedDesc))
		default:
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "order 仅支持 asc/desc")
		}
	}
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		opts = append(opts, invoke.WithQuery(q))
	}
	return opts, nil
}

// parseTimestamp 同时接受 Unix 秒与 RFC3339 格式。
func parseTimestamp(raw string) (time.Time, error) {
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(seconds, 0), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, xerrors.New(xerrors.CodeInvalidArgument, "时间参数必须是 Unix 秒或 RFC3339 格式")
	}
	return ts, nil
}

// statusFor 把内部错误码映射为 HTTP 状态码。
func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeNotFound, invoke.CodeInvocationNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, invoke.CodeInvocationConflict:
		return http.StatusConflict
	case xerrors.CodeInvalidArgument,
		schema.CodeMissingField,
		schema.CodeUnknownAttribute,
		schema.CodeUnknownAttributeType,
		schema.CodeInvalidValue,
		schema.CodeEmptyRequiredList:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// statusRecorder 捕获写入的状态码，供指标中间件使用。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 为处理器记录请求计数与时延指标。
func instrument(name string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		handler.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(started))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
