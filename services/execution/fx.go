package execution

import (
	"context"

	"fleetops-controlplane/pkg/httpapi"
	"fleetops-controlplane/pkg/minio"
	"fleetops-controlplane/services/catalog"
	"fleetops-controlplane/services/inventory"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("execution.service",
	fx.Provide(
		NewRepository,
		func(p *catalog.Planner) PlanLoader { return p },
		func(r *inventory.Resolver) TargetResolver { return r },
		provideArchiver,
		NewExecutor,
		NewService,
		httpapi.AsRouter(NewHandler),
	),
	fx.Invoke(registerLifecycle),
)

// provideArchiver keeps the interface nil when MinIO is not configured.
func provideArchiver(a *minio.Archiver) OutputArchiver {
	if a == nil {
		return nil
	}
	return a
}

func registerLifecycle(lc fx.Lifecycle, e *Executor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := e.Recover(ctx); err != nil {
				zap.L().Error("[Executor] failed to recover interrupted runs", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("[Executor] stopping, interrupting in-flight runs")
			return e.Stop(ctx)
		},
	})
}
