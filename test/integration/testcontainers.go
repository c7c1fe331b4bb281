package integration

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	dbmigrations "github.com/doodlesbykumbi/profile-provisioner/db"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/audit"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/config"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/db"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/metadata"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/metadata/gormstore"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/profile/profiletest"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/provisioner"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/server"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/server/endpoints"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/signing"
)

// TestContext holds all the resources needed for integration tests
type TestContext struct {
	DB          *gorm.DB
	Container   testcontainers.Container
	DatabaseURL string
	Remote      *RemoteAPIs
	Key         *signing.Key
	Tracker     *metadata.Tracker
	Server      *httptest.Server
	HTTPClient  *http.Client
}

// NewTestContext starts PostgreSQL in a container, migrates it and runs the
// hook server in-process against fake remote services.
func NewTestContext(ctx context.Context) (*TestContext, error) {
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("provisioner_test"),
		tcpostgres.WithUsername("provisioner"),
		tcpostgres.WithPassword("provisioner"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	if err := runMigrations(connStr); err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.Connect(db.Config{URL: connStr})
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, err
	}

	key, err := signing.GenerateKey()
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	remote := NewRemoteAPIs()
	tracker := metadata.NewTracker(gormstore.New(database))
	cfg := &config.Config{
		SigningKey:        key.Encoded(),
		NullProfile:       profiletest.EncodedSkeleton(),
		ChangeAPIURL:      remote.Host(),
		PersonAPIURL:      remote.URL,
		OAuthURL:          remote.URL + "/oauth/token",
		OAuthClientID:     "integration",
		OAuthClientSecret: "integration-secret",
		OAuthAudience:     "api.example.com",
		Publisher:         config.DefaultPublisher,
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	registry := prometheus.NewRegistry()

	p := provisioner.New(cfg,
		provisioner.WithHTTPClient(remote.Client()),
		provisioner.WithTracker(tracker),
		provisioner.WithLogger(logger),
		provisioner.WithAuditor(audit.AuditorFunc(func(audit.Event) {})),
		provisioner.WithMetrics(provisioner.NewMetrics(registry)),
	)
	s := server.NewServer(p, registry, logger, "127.0.0.1", "0")
	endpoints.RegisterAll(s)

	log.Println("Using inline server mode")
	return &TestContext{
		DB:          database,
		Container:   pgContainer,
		DatabaseURL: connStr,
		Remote:      remote,
		Key:         key,
		Tracker:     tracker,
		Server:      httptest.NewServer(s.Handler()),
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Close cleans up all test resources
func (tc *TestContext) Close(ctx context.Context) {
	if tc.Server != nil {
		tc.Server.Close()
	}
	if tc.Remote != nil {
		tc.Remote.Close()
	}
	if tc.DB != nil {
		if sqlDB, err := tc.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if tc.Container != nil {
		_ = tc.Container.Terminate(ctx)
	}
}

// runMigrations applies the embedded migrations the way provisionctl does
func runMigrations(dbURL string) error {
	migrationsFS, err := fs.Sub(dbmigrations.Migrations, "migrations")
	if err != nil {
		return err
	}
	source, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
