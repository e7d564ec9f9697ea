package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterVitalsRoutes 注册读数提交和图表查询路由
func (r *Router) RegisterVitalsRoutes(h *VitalsHandler) {
	r.Handle("/vitals/api/v1/heart-rate", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.SubmitReading(w, req)
	})

	r.Handle("/vitals/api/v1/heart-rate/daily", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetDailyRange(w, req)
	})
}

// RegisterAdminRoutes 注册队列运维和阈值管理路由
func (r *Router) RegisterAdminRoutes(h *AdminHandler) {
	r.Handle("/admin/api/v1/queue/stats", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.QueueStats(w, req)
	})

	r.Handle("/admin/api/v1/queue/failed", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ListFailedJobs(w, req)
	})

	r.Handle("/admin/api/v1/queue/failed/retry", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.RetryFailedJobs(w, req)
	})

	r.Handle("/admin/api/v1/queue/completed/purge", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.PurgeCompletedJobs(w, req)
	})

	r.Handle("/admin/api/v1/ingest/batch-threshold", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			h.GetBatchThreshold(w, req)
		case http.MethodPut:
			h.UpdateBatchThreshold(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}
