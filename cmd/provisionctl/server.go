package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/config"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/metadata"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/profile"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/provisioner"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/server"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/server/endpoints"
)

func defaultBindAddress() string {
	if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
		return addr
	}
	return "0.0.0.0"
}

func defaultPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return "8000"
}

func defaultPortInt() int {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			return p
		}
	}
	return 8000
}

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the login hook server",
	Long: `Run the login hook server.

The server accepts login events on POST /hooks/login and reports its state on
GET /status and GET /metrics. An incomplete configuration does not stop the
server: provisioning stays disabled and /status reports why.

With the postgres metadata backend, database migrations are run on startup.
Use --no-migrate to skip. With --watch, changes to provisioner.yml are applied
without a restart.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Reload()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		log := newLogger(cfg)

		noMigrate, _ := cmd.Flags().GetBool("no-migrate")
		if cfg.MetadataBackend == config.BackendPostgres && !noMigrate {
			log.Info("Running database migrations...")
			if err := runMigrations(cfg.DatabaseURL); err != nil {
				log.WithError(err).Fatal("Migration failed")
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		tracker, closeTracker, err := openTracker(ctx, cfg)
		if err != nil {
			log.WithError(err).Fatal("Unable to open metadata backend")
		}
		defer func() { _ = closeTracker() }()

		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		build := newProvisionerFactory(tracker, log, provisioner.NewMetrics(registry))

		host, _ := cmd.Flags().GetString("bind-address")
		port, _ := cmd.Flags().GetString("port")
		s := server.NewServer(build(cfg), registry, log, host, port)
		endpoints.RegisterAll(s)

		if err := cfg.Validate(); err != nil {
			log.WithError(err).Warn("Provisioning is disabled")
		}

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			go func() {
				err := watchConfig(ctx, cfg.ConfigFilePath(), log, func(next *config.Config) {
					if level, err := logrus.ParseLevel(next.LogLevel); err == nil {
						log.SetLevel(level)
					}
					if next.MetadataBackend != cfg.MetadataBackend {
						log.Warnf("metadata_backend change to %q needs a restart", next.MetadataBackend)
					}
					s.SetProvisioner(build(next))
				})
				if err != nil {
					log.WithError(err).Error("Configuration watch stopped")
				}
			}()
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = s.Shutdown(shutdownCtx)
		}()

		log.Infof("Running server at http://%s:%s...", host, port)
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	},
}

// newProvisionerFactory returns a constructor that builds provisioners
// sharing the tracker, skeleton cache and metrics across reloads.
func newProvisionerFactory(tracker *metadata.Tracker, log logrus.FieldLogger, metrics *provisioner.Metrics) func(*config.Config) *provisioner.Provisioner {
	// DefaultCacheSize is positive, so this cannot fail
	skeletons, _ := profile.NewSkeletonCache(profile.DefaultCacheSize)

	return func(cfg *config.Config) *provisioner.Provisioner {
		return provisioner.New(cfg,
			provisioner.WithTracker(tracker),
			provisioner.WithSkeletonCache(skeletons),
			provisioner.WithLogger(log),
			provisioner.WithMetrics(metrics),
		)
	}
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringP("port", "p", defaultPort(), "server listen port")
	serverCmd.Flags().StringP("bind-address", "b", defaultBindAddress(), "server bind address")
	serverCmd.Flags().Bool("no-migrate", false, "skip running database migrations on start")
	serverCmd.Flags().BoolP("watch", "w", false, "reload the configuration when provisioner.yml changes")
}
