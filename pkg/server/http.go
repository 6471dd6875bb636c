package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"

	"fleetops-controlplane/pkg/config"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ProvideHTTPServer = fx.Module("http.server",
	fx.Provide(NewHttpServer),
	fx.Invoke(Run),
)

type Server struct {
	server *http.Server
	certs  *certReloader
	stop   context.CancelFunc
}

type Params struct {
	fx.In
	Config *config.Config
	Engine *gin.Engine
}

func NewHttpServer(p Params) (*Server, error) {
	cfg := p.Config

	var handler http.Handler = p.Engine
	if cfg.Otel.Addr != "" {
		handler = otelhttp.NewHandler(p.Engine, cfg.AppName)
	}

	srv := &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Addr),
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}

	if cfg.TLS.Enable {
		srv.certs = newCertReloader(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err := srv.certs.Load(); err != nil {
			return nil, fmt.Errorf("load TLS certificate: %w", err)
		}
		srv.server.TLSConfig = &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: srv.certs.GetCertificate,
		}
	}

	return srv, nil
}

func Run(lc fx.Lifecycle, srv *Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			serve := srv.server.ListenAndServe
			if srv.certs != nil {
				ctx, cancel := context.WithCancel(context.Background())
				srv.stop = cancel
				go srv.certs.Watch(ctx)

				zap.L().Info("Starting HTTP server with TLS", zap.String("addr", srv.server.Addr))
				serve = func() error { return srv.server.ListenAndServeTLS("", "") }
			} else {
				zap.L().Info("Starting HTTP server", zap.String("addr", srv.server.Addr))
			}

			go func() {
				if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					zap.L().Error("HTTP server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Shutting down HTTP server gracefully...")
			if srv.stop != nil {
				srv.stop()
			}
			return srv.server.Shutdown(ctx)
		},
	})
}
