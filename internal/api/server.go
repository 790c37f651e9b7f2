package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"swappilot/internal/auth"
	xerrors "swappilot/internal/errors"
	"swappilot/internal/observability/metrics"
	"swappilot/internal/swap"
	"swappilot/internal/task"
	"swappilot/pkg/logger"
)

const maxBodyBytes = 64 << 10

// Pipeline 同步执行一次换币路径查询。
type Pipeline interface {
	Execute(ctx context.Context, req swap.Request) swap.Response
}

// JobService 描述异步任务相关能力。
type JobService interface {
	Submit(ctx context.Context, req swap.Request) (*task.Job, error)
	Get(ctx context.Context, id string) (*task.Job, error)
	History(ctx context.Context, wallet string, limit int) ([]*task.Job, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr     string
	pipeline Pipeline
	jobs     JobService
	metrics  *metrics.Collector
	auth     *auth.Service
	recorder task.SwapRecorder
	logger   *slog.Logger
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithJobService 启用异步任务与历史接口。
func WithJobService(jobs JobService) Option {
	return func(s *Server) {
		s.jobs = jobs
	}
}

// WithMetrics 启用 HTTP 指标与 /metrics 端点。
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = c
	}
}

// WithAuth 为业务接口启用 API 密钥认证。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// WithSwapRecorder 记录同步接口确认的换币结果。
func WithSwapRecorder(recorder task.SwapRecorder) Option {
	return func(s *Server) {
		s.recorder = recorder
	}
}

// WithLogger 指定请求日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, pipeline Pipeline, opts ...Option) *Server {
	s := &Server{addr: addr, pipeline: pipeline, logger: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/swap-path", "swap_path", s.handleSwapPath, auth.PermissionSwapQuery)
	s.route(mux, "POST /api/v1/swap-jobs", "swap_jobs_submit", s.handleSubmitJob, auth.PermissionJobsWrite)
	s.route(mux, "GET /api/v1/swap-jobs/{id}", "swap_jobs_get", s.handleGetJob, auth.PermissionJobsRead)
	s.route(mux, "GET /api/v1/swap-history/{wallet}", "swap_history", s.handleHistory, auth.PermissionJobsRead)
	s.route(mux, "GET /healthz", "healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
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
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

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

// swapRequest 兼容旧接口的 query 字段。
type swapRequest struct {
	ID      string `json:"id,omitempty"`
	Text    string `json:"text"`
	Query   string `json:"query,omitempty"`
	Wallet  string `json:"wallet"`
	ChainID string `json:"chain_id,omitempty"`
}

func (r swapRequest) toRequest() swap.Request {
	text := r.Text
	if strings.TrimSpace(text) == "" {
		text = r.Query
	}
	return swap.Request{ID: r.ID, Text: text, Wallet: r.Wallet, ChainID: r.ChainID}
}

// handleSwapPath 同步运行流水线；确认与拒绝都返回 200。
func (s *Server) handleSwapPath(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "流水线未初始化")
		return
	}
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	swapReq := req.toRequest()
	resp := s.pipeline.Execute(r.Context(), swapReq)
	s.record(r.Context(), swapReq, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) record(ctx context.Context, req swap.Request, resp swap.Response) {
	if s.recorder == nil || !resp.IsConfirmed() {
		return
	}
	if err := s.recorder.RecordSwap(context.WithoutCancel(ctx), req, resp); err != nil {
		s.logger.Warn("写入换币历史失败", slog.Any("error", err), slog.String("request_id", resp.Metadata.RequestID))
	}
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未启用")
		return
	}
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	job, err := s.jobs.Submit(r.Context(), req.toRequest())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未启用")
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "缺少任务 ID")
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未启用")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	jobs, err := s.jobs.History(r.Context(), r.PathValue("wallet"), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallet": r.PathValue("wallet"), "jobs": jobs})
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (swapRequest, bool) {
	var req swapRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "请求体解析失败")
		return swapRequest{}, false
	}
	return req, true
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case stdErrors.Is(err, task.ErrJobNotFound):
		status = http.StatusNotFound
	case xerrors.HasCode(err, task.CodeJobValidation, xerrors.CodeInvalidArgument):
		status = http.StatusBadRequest
	case xerrors.HasCode(err, task.CodeJobConflict):
		status = http.StatusConflict
	case xerrors.HasCode(err, task.CodeJobPublish, xerrors.CodeInitializationFailure):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败", slog.Any("error", err))
	}
	message := err.Error()
	if coded, ok := xerrors.From(err); ok {
		message = coded.Message()
	}
	writeError(w, status, xerrors.CodeOf(err), message)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: string(code), Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
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
