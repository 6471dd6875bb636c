package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fleetops-controlplane/pkg/asynq"
	"fleetops-controlplane/pkg/config"
	"fleetops-controlplane/pkg/db"
	"fleetops-controlplane/pkg/gen"
	"fleetops-controlplane/pkg/hashistack/secretmanager"
	"fleetops-controlplane/pkg/health"
	"fleetops-controlplane/pkg/httpapi"
	"fleetops-controlplane/pkg/logger"
	"fleetops-controlplane/pkg/minio"
	"fleetops-controlplane/pkg/otelcol"
	"fleetops-controlplane/pkg/profiling"
	"fleetops-controlplane/pkg/redis"
	"fleetops-controlplane/pkg/remote"
	"fleetops-controlplane/pkg/server"
	"fleetops-controlplane/services/catalog"
	"fleetops-controlplane/services/execution"
	"fleetops-controlplane/services/inventory"
	"fleetops-controlplane/services/notification"
	"fleetops-controlplane/services/schedule"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		fx.Invoke(migrate),
		gen.Module,
		redis.Module,
		asynq.Client,
		asynq.Server,
		minio.Client,
		secretmanager.Module,
		remote.Module,
		health.Module,
		inventory.Module,
		catalog.Module,
		execution.Module,
		schedule.Module,
		notification.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})

func migrate(database *gorm.DB) error {
	var models []any
	models = append(models, inventory.Models()...)
	models = append(models, catalog.Models()...)
	models = append(models, execution.Models()...)
	models = append(models, schedule.Models()...)
	models = append(models, notification.Models()...)

	if err := database.AutoMigrate(models...); err != nil {
		zap.L().Error("[DB] Migration failed", zap.Error(err))
		return err
	}
	zap.L().Info("[DB] Schema up to date", zap.Int("tables", len(models)))
	return nil
}
