package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// NewRouter はジョブ API のルーティングを構築します。
func NewRouter(h *JobHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(ensureRequestID)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/batch", h.QuickLaunchHandler)
	r.Route("/api", func(r chi.Router) {
		r.Get("/metrics", h.MetricsHandler)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.ListJobsHandler)
			r.Post("/", h.RegisterJobHandler)
			r.Route("/{jobName}", func(r chi.Router) {
				r.Post("/execute", h.ExecuteJobHandler)
				r.Get("/status/{executionId}", h.JobStatusHandler)
				r.Get("/executions", h.JobExecutionsHandler)
				r.Post("/stop/{executionId}", h.StopJobHandler)
			})
		})
	})
	return r
}

// ensureRequestID はリクエスト ID がなければ UUID を付与します。
func ensureRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(middleware.RequestIDHeader) == "" {
			r.Header.Set(middleware.RequestIDHeader, uuid.NewString())
		}
		w.Header().Set(middleware.RequestIDHeader, r.Header.Get(middleware.RequestIDHeader))
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debugf("[%s] %s %s %d %dms", middleware.GetReqID(r.Context()), r.Method, r.URL.Path, ww.Status(), time.Since(start).Milliseconds())
	})
}
