package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"PluginHub/internal/auth"
	"PluginHub/internal/journal"
	"PluginHub/internal/observability/metrics"
	"PluginHub/pkg/logger"
	"PluginHub/pkg/plugin"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
	maxBodyBytes      = 1 << 20
)

// Server 负责暴露管理接口，供外部驱动插件生命周期。
type Server struct {
	addr            string
	coordinator     plugin.Coordinator
	events          journal.Reader
	metrics         *metrics.Collector
	guard           *auth.Guard
	shutdownTimeout time.Duration
	log             *slog.Logger
}

// Option 调整 Server 的可选依赖。
type Option func(*Server)

// WithEventReader 提供 /api/v1/events 的数据来源。
func WithEventReader(r journal.Reader) Option {
	return func(s *Server) { s.events = r }
}

// WithMetrics 记录每个请求的指标。
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithAuth 为全部路由启用令牌认证。
func WithAuth(g *auth.Guard) Option {
	return func(s *Server) { s.guard = g }
}

// WithShutdownTimeout 设置优雅退出的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, coordinator plugin.Coordinator, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		coordinator:     coordinator,
		shutdownTimeout: 5 * time.Second,
		log:             logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回挂载了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/plugins", s.instrument("plugins", s.handleListPlugins))
	mux.HandleFunc("POST /api/v1/plugins/{id}/{action}", s.instrument("plugin_action", s.handlePluginAction))
	mux.HandleFunc("POST /api/v1/init", s.instrument("init", s.handleInit))
	mux.HandleFunc("GET /api/v1/events", s.instrument("events", s.handleEvents))
	if s.guard != nil {
		return s.guard.Middleware(mux)
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("管理 API 已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type operationResponse struct {
	Plugin    string         `json:"plugin"`
	Operation string         `json:"operation"`
	Outcome   plugin.Outcome `json:"outcome"`
}

type initResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) handleListPlugins(w http.ResponseWriter, _ *http.Request) {
	if s.coordinator == nil {
		http.Error(w, "协调器未初始化", http.StatusServiceUnavailable)
		return
	}
	self := plugin.Status{
		ID:    s.coordinator.Name(),
		Name:  s.coordinator.Name(),
		State: s.coordinator.State(),
	}
	if reporter, ok := s.coordinator.(interface{ Initialized() bool }); ok {
		self.Initialized = reporter.Initialized()
	}
	statuses := append([]plugin.Status{self}, s.coordinator.Statuses()...)
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handlePluginAction(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		http.Error(w, "协调器未初始化", http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")
	action := r.PathValue("action")
	if id == "" {
		http.Error(w, "缺少插件 ID", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var outcome plugin.Outcome
	switch action {
	case "activate":
		outcome = s.coordinator.ActivatePlugin(ctx, id)
	case "deactivate":
		outcome = s.coordinator.DeactivatePlugin(ctx, id)
	case "execute":
		models, err := decodeValues(r)
		if err != nil {
			http.Error(w, "请求体必须是 JSON 数组", http.StatusBadRequest)
			return
		}
		outcome = s.coordinator.ExecutePlugin(ctx, id, models...)
	default:
		http.Error(w, "不支持的操作: "+action, http.StatusNotFound)
		return
	}

	writeJSON(w, statusForOutcome(outcome), operationResponse{Plugin: id, Operation: action, Outcome: outcome})
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		http.Error(w, "协调器未初始化", http.StatusServiceUnavailable)
		return
	}
	configs, err := decodeValues(r)
	if err != nil {
		http.Error(w, "请求体必须是 JSON 数组", http.StatusBadRequest)
		return
	}
	ok, err := s.coordinator.Init(r.Context(), configs...)
	if err != nil {
		s.log.Error("初始化插件失败", slog.Any("error", err))
		ok = false
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, initResponse{OK: ok})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "事件日志不可读", http.StatusServiceUnavailable)
		return
	}
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit 必须是正整数", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxEventLimit)
	}
	events, err := s.events.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error("读取事件日志失败", slog.Any("error", err))
		http.Error(w, "读取事件日志失败", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []plugin.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// decodeValues 解析可选的 JSON 数组请求体，空请求体视为无参数。
func decodeValues(r *http.Request) ([]plugin.Value, error) {
	if r.Body == nil {
		return nil, nil
	}
	var raw []any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	values := make([]plugin.Value, 0, len(raw))
	for _, v := range raw {
		values = append(values, v)
	}
	return values, nil
}

func statusForOutcome(o plugin.Outcome) int {
	switch o {
	case plugin.OutcomeSucceeded:
		return http.StatusOK
	case plugin.OutcomeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument 记录请求耗时与状态码。
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(started))
	}
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
