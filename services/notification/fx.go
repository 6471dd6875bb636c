package notification

import (
	"net/http"

	"fleetops-controlplane/pkg/config"
	"fleetops-controlplane/pkg/httpapi"
	"fleetops-controlplane/pkg/ratelimit"
	"fleetops-controlplane/pkg/taskname"
	"fleetops-controlplane/services/catalog"
	"fleetops-controlplane/services/execution"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification.service",
	fx.Provide(
		NewRepository,
		func(r execution.Repository) RunSource { return r },
		func(r catalog.Repository) TemplateSource { return r },
		newProviders,
		NewDispatcher,
		NewPublisher,
		NewService,
		httpapi.AsRouter(NewHandler),
	),
	fx.Invoke(registerObserver, registerTaskHandlers),
)

// newProviders builds the built in channel providers. Outgoing requests are
// traced and share one rate limiter keyed by endpoint url.
func newProviders(cfg *config.Config, log *zap.Logger) []Provider {
	client := &http.Client{
		Timeout:   cfg.Notification.SendTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	limiter := ratelimit.NewTokenBucketLimiter(cfg.Notification.WebhookRate, cfg.Notification.WebhookBurst)

	return []Provider{
		NewWebhookProvider(client, limiter),
		NewSlackProvider(client, limiter),
		NewLogProvider(log),
	}
}

func registerObserver(e *execution.Executor, p *Publisher) {
	e.Observe(p)
}

func registerTaskHandlers(mux *asynq.ServeMux, d *Dispatcher) {
	mux.HandleFunc(taskname.NotificationDispatch, d.HandleDispatchTask)
}
