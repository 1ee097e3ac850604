package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"PolicyGate-Chain/internal/audit"
	xerrors "PolicyGate-Chain/internal/errors"
	"PolicyGate-Chain/internal/market"
	"PolicyGate-Chain/internal/observability/metrics"
	"PolicyGate-Chain/internal/run"
)

// Runner 定义服务端驱动一次运行所需的能力。
type Runner interface {
	Run(ctx context.Context, policyRef string, opps []market.Opportunity) (*run.Result, error)
}

// Server 负责暴露 REST 接口：发起运行、查询运行结果与审计记录。
type Server struct {
	addr             string
	runner           Runner
	runs             run.Store
	ledger           audit.Reader
	defaultPolicyRef string
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runner Runner, runs run.Store, ledger audit.Reader, defaultPolicyRef string) *Server {
	return &Server{
		addr:             addr,
		runner:           runner,
		runs:             runs,
		ledger:           ledger,
		defaultPolicyRef: defaultPolicyRef,
	}
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

// Handler 返回完整的路由，测试可直接挂在 httptest 上。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/runs", s.instrument("runs", s.handleRuns))
	mux.HandleFunc("/api/v1/runs/", s.instrument("run_detail", s.handleRunDetail))
	mux.HandleFunc("/api/v1/audit", s.instrument("audit", s.handleAudit))
	return mux
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// runRequest 是发起一次运行的请求体。
type runRequest struct {
	PolicyRef     string               `json:"policy_ref"`
	Opportunities []market.Opportunity `json:"opportunities"`
}

// handleCreateRun 同步驱动一次运行并返回完整结果。
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		http.Error(w, "运行控制器未初始化", http.StatusServiceUnavailable)
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if req.PolicyRef == "" {
		req.PolicyRef = s.defaultPolicyRef
	}
	for i := range req.Opportunities {
		if err := req.Opportunities[i].Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	result, err := s.runner.Run(r.Context(), req.PolicyRef, req.Opportunities)
	if err != nil && result == nil {
		status := http.StatusInternalServerError
		if xerrors.CodeOf(err) == xerrors.CodeNotFound || xerrors.CodeOf(err) == xerrors.CodeInvalidArgument {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	record := run.Record{RunID: result.RunID, Status: run.StatusCompleted, Result: result}
	status := http.StatusOK
	if err != nil {
		record.Status = run.StatusFailed
		record.Error = err.Error()
		status = http.StatusInternalServerError
	}
	if s.runs != nil {
		_ = s.runs.Save(r.Context(), record)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(record)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "运行存储未初始化", http.StatusServiceUnavailable)
		return
	}
	records, err := s.runs.List(r.Context(), parseLimit(r, 20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.runs == nil {
		http.Error(w, "运行存储未初始化", http.StatusServiceUnavailable)
		return
	}

	runID := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		http.Error(w, "非法的运行 ID", http.StatusBadRequest)
		return
	}

	record, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeNotFound {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(record)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.ledger == nil {
		http.Error(w, "审计账本未初始化", http.StatusServiceUnavailable)
		return
	}

	entries, err := s.ledger.ListLatest(r.Context(), parseLimit(r, 50))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

func parseLimit(r *http.Request, fallback int) int {
	limit := fallback
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return limit
}

// instrument 包装处理函数以记录请求指标。
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
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
