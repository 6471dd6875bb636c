package httpapi

import (
	"fleetops-controlplane/pkg/config"
	"fleetops-controlplane/pkg/health"
	"fleetops-controlplane/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(fx.Annotate(NewEngine, fx.ParamTags(``, ``, `group:"routes"`))),
)

// Router mounts a service's endpoints under /v1.
type Router interface {
	Register(r gin.IRouter)
}

// AsRouter annotates a constructor so its result joins the routes group.
func AsRouter(f any) any {
	return fx.Annotate(f, fx.As(new(Router)), fx.ResultTags(`group:"routes"`))
}

func NewEngine(cfg *config.Config, h health.HealthService, routers []Router) *gin.Engine {
	if cfg.AppEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", h.Liveness)
	engine.GET("/readyz", h.Readiness)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/v1", middleware.Error())
	for _, r := range routers {
		r.Register(v1)
	}
	return engine
}
