package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cocosip/locus/pkg/config"
	"github.com/cocosip/locus/pkg/events"
	"github.com/cocosip/locus/pkg/health"
	"github.com/cocosip/locus/pkg/log"
	"github.com/cocosip/locus/pkg/maintenance"
	"github.com/cocosip/locus/pkg/metastore"
	"github.com/cocosip/locus/pkg/metrics"
	"github.com/cocosip/locus/pkg/pool"
	"github.com/cocosip/locus/pkg/queue"
	"github.com/cocosip/locus/pkg/quota"
	"github.com/cocosip/locus/pkg/recovery"
	"github.com/cocosip/locus/pkg/tenant"
	"github.com/cocosip/locus/pkg/types"
	"github.com/cocosip/locus/pkg/volume"
)

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "locus.yaml", "Path to the YAML configuration file")
}

// app holds a fully wired pool and its collaborators
type app struct {
	cfg      config.Config
	broker   *events.Broker
	registry *tenant.Registry
	meta     *metastore.Store
	quotas   *quota.Store
	volumes  []volume.Volume
	pool     *pool.Pool
	recovery *recovery.Manager
}

// buildApp loads the config and assembles the pool. Every command
// shares this bootstrap so the CLI and the server see the same state.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

	broker := events.NewBroker()
	broker.Start()

	registry, err := tenant.New(cfg.TenantDirectory, cfg.AutoCreateTenants, cfg.TenantCacheTTL.Std(), broker)
	if err != nil {
		return nil, err
	}
	meta, err := metastore.Open(cfg.MetadataDirectory)
	if err != nil {
		return nil, err
	}
	quotas, err := quota.Open(cfg.QuotaDirectory, cfg.DefaultTenantQuota, cfg.DefaultDirectoryQuota)
	if err != nil {
		return nil, err
	}

	volumes := make([]volume.Volume, 0, len(cfg.Volumes))
	for _, vc := range cfg.Volumes {
		v, err := volume.New(vc.VolumeID, vc.MountPath, vc.ShardingDepth)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrNoHealthyVolume, err)
		}
		volumes = append(volumes, v)
	}

	p, err := pool.New(pool.Options{
		Registry: registry,
		Meta:     meta,
		Quotas:   quotas,
		Volumes:  volumes,
		Retry: queue.RetryPolicy{
			MaxRetries:         uint32(cfg.Retry.MaxRetryCount),
			InitialDelay:       cfg.Retry.InitialDelay.Std(),
			MaxDelay:           cfg.Retry.MaxDelay.Std(),
			ExponentialBackoff: cfg.Retry.ExponentialBackoff,
		},
		Broker: broker,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		broker:   broker,
		registry: registry,
		meta:     meta,
		quotas:   quotas,
		volumes:  volumes,
		pool:     p,
		recovery: recovery.New(meta, quotas, registry, volumes, broker),
	}, nil
}

func (a *app) close() {
	if err := a.pool.Close(); err != nil {
		logger := log.WithComponent("server")
		logger.Error().Err(err).Msg("Failed to close stores")
	}
	a.broker.Stop()
}

func (a *app) checkers() []health.Checker {
	checkers := make([]health.Checker, 0, len(a.volumes)+2)
	for _, v := range a.volumes {
		checkers = append(checkers, health.NewVolumeChecker(v))
	}
	checkers = append(checkers,
		health.NewMetadataChecker(a.meta, a.registry),
		health.NewQuotaChecker(a.quotas, a.registry),
	)
	return checkers
}

// startupCheck gates the server on healthy mounts and intact
// databases. Damage surfaces as a typed error so main can pick the
// right exit code.
func (a *app) startupCheck(ctx context.Context) error {
	if err := a.recovery.CheckAll(ctx); err != nil {
		return err
	}
	for _, r := range health.RunAll(ctx, a.checkers()) {
		if !r.Healthy {
			return fmt.Errorf("%w: %s", types.ErrNoHealthyVolume, r.Message)
		}
	}
	return nil
}

// newMaintenanceRunner builds a runner from the app's config; shared
// by the server loop and the maintain command
func newMaintenanceRunner(a *app) *maintenance.Runner {
	return maintenance.NewRunner(a.meta, a.quotas, a.registry, a.pool.Queue(), a.volumes, maintenance.Config{
		Interval:          a.cfg.MaintenanceInterval.Std(),
		ProcessingTimeout: a.cfg.ProcessingTimeout.Std(),
		FailedRetention:   a.cfg.FailedRetention.Std(),
		OrphanSweep:       a.cfg.EnableOrphanSweep,
	}, a.broker)
}

func (a *app) preCreateTenants(ctx context.Context) error {
	for _, id := range a.cfg.PreCreateTenants {
		_, err := a.registry.Create(ctx, id)
		if err != nil && !errors.Is(err, types.ErrTenantExists) {
			return fmt.Errorf("failed to pre-create tenant %s: %w", id, err)
		}
	}
	return nil
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the storage pool server",
	Long: `Run the storage pool with its background loops: health monitoring,
metrics sampling, and periodic maintenance. When listenAddress is
configured, /metrics, /healthz, /readyz, and /livez are served over
HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		logger := log.WithComponent("server")
		ctx := cmd.Context()

		metrics.SetVersion(Version)
		metrics.UpdateComponent("volumes", true, "")
		metrics.UpdateComponent("metastore", true, "")
		metrics.UpdateComponent("quota", true, "")

		if err := a.preCreateTenants(ctx); err != nil {
			return err
		}

		if a.cfg.StartupHealthCheck {
			if err := a.startupCheck(ctx); err != nil {
				return fmt.Errorf("startup health check failed: %w", err)
			}
			logger.Info().Msg("Startup health check passed")
		}

		monitor := health.NewMonitor(a.checkers(), health.DefaultConfig(), a.broker)
		monitor.Start()
		defer monitor.Stop()

		collector := metrics.NewCollector(a.pool, metrics.DefaultSampleInterval)
		collector.Start()
		defer collector.Stop()

		if a.cfg.EnableBackgroundMaintenance {
			runner := newMaintenanceRunner(a)
			runner.Start()
			defer runner.Stop()
		}

		var httpServer *http.Server
		httpErrCh := make(chan error, 1)
		if a.cfg.ListenAddress != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.HandleFunc("/healthz", metrics.HealthHandler())
			mux.HandleFunc("/readyz", metrics.ReadyHandler())
			mux.HandleFunc("/livez", metrics.LivenessHandler())

			httpServer = &http.Server{
				Addr:              a.cfg.ListenAddress,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				logger.Info().Str("address", a.cfg.ListenAddress).Msg("Serving metrics and health endpoints")
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					httpErrCh <- err
				}
			}()
		}

		logger.Info().
			Str("version", Version).
			Int("volumes", len(a.volumes)).
			Msg("Storage pool is running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		case err := <-httpErrCh:
			logger.Error().Err(err).Msg("HTTP listener failed")
		}

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("HTTP shutdown failed")
			}
		}
		return nil
	},
}
