package health

import (
	"context"
	"net/http"
	"time"

	"fleetops-controlplane/pkg/minio"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const checkTimeout = 2 * time.Second

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

// Check is one readiness probe.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type health struct {
	checks []Check
}

type HealthParams struct {
	fx.In
	DB       *gorm.DB        `optional:"true"`
	Redis    *redis.Client   `optional:"true"`
	Archiver *minio.Archiver `optional:"true"`
}

// ProvideHealth probes the database and, when configured, redis and the
// output archive bucket.
func ProvideHealth(p HealthParams) HealthService {
	var checks []Check
	if p.DB != nil {
		checks = append(checks, Check{Name: p.DB.Name(), Ping: func(ctx context.Context) error {
			sql, err := p.DB.DB()
			if err != nil {
				return err
			}
			return sql.PingContext(ctx)
		}})
	}
	if p.Redis != nil {
		checks = append(checks, Check{Name: "redis", Ping: func(ctx context.Context) error {
			return p.Redis.Ping(ctx).Err()
		}})
	}
	if p.Archiver != nil {
		checks = append(checks, Check{Name: "minio", Ping: p.Archiver.Ping})
	}
	return NewHealth(checks...)
}

func NewHealth(checks ...Check) HealthService {
	return &health{checks: checks}
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  "healthy",
		Message: "OK",
	})
}

// Readiness runs every check. Any failure turns the response into a 503.
func (h *health) Readiness(c *gin.Context) {
	this := &Health{
		Status:  "healthy",
		Message: "OK",
		Deps:    make([]Dependency, 0, len(h.checks)),
	}
	code := http.StatusOK

	for _, check := range h.checks {
		dep := Dependency{Name: check.Name, Status: "healthy", Message: "OK"}

		ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
		err := check.Ping(ctx)
		cancel()
		if err != nil {
			dep.Status = "unhealthy"
			dep.Message = err.Error()
			this.Status = "unhealthy"
			this.Message = "dependency check failed"
			code = http.StatusServiceUnavailable
		}
		this.Deps = append(this.Deps, dep)
	}

	c.JSON(code, this)
}
