package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/wolfeidau/orgsync/internal/api"
	"github.com/wolfeidau/orgsync/internal/config"
	"github.com/wolfeidau/orgsync/internal/connectors"
	"github.com/wolfeidau/orgsync/internal/controlplane"
	"github.com/wolfeidau/orgsync/internal/engine"
	"github.com/wolfeidau/orgsync/internal/jobs"
	"github.com/wolfeidau/orgsync/internal/ledger"
	"github.com/wolfeidau/orgsync/internal/logger"
	"github.com/wolfeidau/orgsync/internal/telemetry"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"ORGSYNC_LISTEN"`
	Cert   string `help:"path to TLS cert file, serves plain HTTP when empty" default:"" env:"ORGSYNC_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"ORGSYNC_TLS_KEY"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost" env:"ORGSYNC_CORS_ORIGINS"`

	// Provisioning configuration
	Config       string        `help:"path to the YAML configuration file" type:"path" env:"ORGSYNC_CONFIG"`
	SyncInterval time.Duration `help:"interval between background synchronization passes, 0 disables them" default:"0s" env:"ORGSYNC_SYNC_INTERVAL"`

	// Telemetry
	Tracing          bool          `help:"enable tracing" default:"false" env:"ORGSYNC_TRACING"`
	TraceSampleRatio float64       `help:"ratio of traces sampled" default:"1.0" env:"ORGSYNC_TRACE_SAMPLE_RATIO"`
	MetricsInterval  time.Duration `help:"interval between metric exports" default:"10s" env:"ORGSYNC_METRICS_INTERVAL"`

	Store        StoreFlags        `embed:""`
	ControlPlane ControlPlaneFlags `embed:"" prefix:"controlplane-"`
}

type ControlPlaneFlags struct {
	URL          string `help:"control-plane API endpoint, an empty in-memory control-plane is used when unset" env:"ORGSYNC_CONTROLPLANE_URL"`
	TokenURL     string `help:"OAuth2 token endpoint for the client credentials grant" env:"ORGSYNC_CONTROLPLANE_TOKEN_URL"`
	ClientID     string `help:"OAuth2 client id" env:"ORGSYNC_CONTROLPLANE_CLIENT_ID"`
	ClientSecret string `help:"OAuth2 client secret" env:"ORGSYNC_CONTROLPLANE_CLIENT_SECRET"`
	PerPage      int    `help:"page size requested from the control-plane" default:"100"`
	Cache        bool   `help:"cache listings and revalidate them with ETags" default:"false" env:"ORGSYNC_CONTROLPLANE_CACHE"`
}

func (c *ControlPlaneFlags) client(ctx context.Context) (controlplane.Client, error) {
	if c.URL == "" {
		zlog.Warn().Msg("No control-plane URL configured, using an empty in-memory control-plane")
		return controlplane.NewStaticClient(c.PerPage), nil
	}

	return controlplane.NewHTTPClient(ctx, controlplane.HTTPConfig{
		BaseURL:      c.URL,
		TokenURL:     c.TokenURL,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		PerPage:      c.PerPage,
		Cache:        c.Cache,
	})
}

func (c *ServerCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	zlog.Logger = log
	zerolog.DefaultContextLogger = &log

	ctx, stop := signal.NotifyContext(log.WithContext(ctx), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName:    "orgsync-server",
			Version:        globals.Version,
			SampleRatio:    c.TraceSampleRatio,
			ExportInterval: c.MetricsInterval,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}

	nodeStore, closeStore, err := c.Store.openStore(ctx, cfg.Ledger.ACL)
	if err != nil {
		return err
	}
	defer closeStore()

	l := ledger.New(nodeStore, cfg.Ledger.Root)
	if err := l.Init(ctx, ledger.Version); err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}

	conns, closeConnectors, err := connectors.Build(ctx, cfg.Connectors)
	if err != nil {
		return err
	}
	defer closeConnectors()

	cp, err := c.ControlPlane.client(ctx)
	if err != nil {
		return err
	}

	eng := engine.New(cp, l, conns, engine.Config{
		Timeout:     cfg.Engine.Timeout,
		MaxParallel: cfg.Engine.MaxParallel,
	})

	registry := jobs.NewRegistry(jobs.Config{
		Capacity:    cfg.Jobs.Capacity,
		TTL:         cfg.Jobs.TTL,
		GracePeriod: cfg.Jobs.GracePeriod,
	})

	if c.SyncInterval > 0 {
		scheduler := engine.NewScheduler(ctx, eng, c.SyncInterval)
		defer scheduler.Stop()
		log.Info().Dur("interval", c.SyncInterval).Msg("Background synchronization enabled")
	}

	handler := api.NewServer(eng, l, registry).Handler(api.Options{
		CORSOrigins: c.CORSOrigins,
		Logger:      log,
	})

	srv := configureHTTPServer(c.Listen, handler)
	srv.BaseContext = func(net.Listener) context.Context { return log.WithContext(context.Background()) }

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", c.Listen).
			Bool("tls", c.Cert != "").
			Strs("connectors", eng.Connectors()).
			Msg("Starting HTTP server")

		if c.Cert != "" {
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
