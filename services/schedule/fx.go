package schedule

import (
	"fleetops-controlplane/pkg/httpapi"
	"fleetops-controlplane/services/execution"

	"go.uber.org/fx"
)

var Module = fx.Module("schedule.service",
	fx.Provide(
		NewRepository,
		NewService,
		func(e *execution.Executor) Runner { return e },
		func(r execution.Repository) RunTracker { return r },
		NewScheduler,
		httpapi.AsRouter(NewHandler),
	),
	fx.Invoke(StartScheduler),
)
