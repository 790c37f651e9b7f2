package api

import (
	"net/http"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// route 注册路由，perms 非空时先经过认证。
func (s *Server) route(mux *http.ServeMux, pattern, name string, handler http.HandlerFunc, perms ...string) {
	var h http.Handler = handler
	if len(perms) > 0 && s.auth.Enabled() {
		h = s.auth.Require(perms...)(h)
	}
	mux.Handle(pattern, s.instrument(name, h))
}

// instrument 记录请求耗时与状态码。
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(started)
		s.metrics.ObserveHTTPRequest(name, r.Method, rec.status, elapsed)
		s.logger.Debug("http request",
			"handler", name,
			"method", r.Method,
			"status", rec.status,
			"latency_ms", elapsed.Milliseconds(),
		)
	})
}
