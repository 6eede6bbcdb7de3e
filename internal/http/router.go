package httpapi

import (
	"net/http"

	"kittypau/internal/config"
	"kittypau/internal/service"

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

// RegisterRoutes 构建 handler 并挂载全部路由
func RegisterRoutes(
	r *Router,
	auth config.AuthConfig,
	heartbeatService service.HeartbeatService,
	healthCheckService service.HealthCheckService,
	overviewService service.OverviewService,
	auditService service.AuditService,
	logger *zap.Logger,
) {
	guard := newAuthGuard(auth)
	hb := NewHeartbeatHandler(heartbeatService, guard, logger)
	hc := NewHealthCheckHandler(healthCheckService, guard, logger)
	ov := NewOverviewHandler(overviewService, auditService, guard, logger)
	r.RegisterFleetRoutes(hb, hc, ov)
}

// RegisterFleetRoutes 注册全部路由
func (r *Router) RegisterFleetRoutes(hb *HeartbeatHandler, hc *HealthCheckHandler, ov *OverviewHandler) {
	r.Handle("/iot/api/v1/bridges/heartbeat", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		hb.Ingest(w, req)
	})

	r.Handle("/iot/api/v1/health-check", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		hc.Run(w, req)
	})

	r.Handle("/admin/api/v1/fleet/overview", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ov.FleetOverview(w, req)
	})

	r.Handle("/admin/api/v1/fleet/audit-export", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ov.AuditExport(w, req)
	})

	// liveness probe
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
