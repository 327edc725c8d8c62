// Warden Core - Building Security Identity Service
//
// This is the main entry point for the Warden Core application.
// Warden authenticates residents, guards and operators of multi-tenant
// residential buildings and decides what each of them may do:
//   - Password login with per-tenant lockout
//   - Signed access and refresh tokens
//   - Time-bounded role assignments
//   - A security event trail (audit log, MQTT, InfluxDB, WebSocket)
//
// For configuration, see: configs/config.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/warden-core/internal/api"
	"github.com/nerrad567/warden-core/internal/audit"
	"github.com/nerrad567/warden-core/internal/auth"
	"github.com/nerrad567/warden-core/internal/device"
	"github.com/nerrad567/warden-core/internal/events"
	"github.com/nerrad567/warden-core/internal/infrastructure/config"
	"github.com/nerrad567/warden-core/internal/infrastructure/database"
	"github.com/nerrad567/warden-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/warden-core/internal/infrastructure/logging"
	"github.com/nerrad567/warden-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/warden-core/internal/infrastructure/secrets"
	"github.com/nerrad567/warden-core/internal/metrics"
	"github.com/nerrad567/warden-core/internal/ratelimit"
	"github.com/nerrad567/warden-core/internal/store/postgres"
	"github.com/nerrad567/warden-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

const (
	eventQueueSize         = 1024
	sessionJanitorInterval = 15 * time.Minute
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting Warden Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	m := metrics.New()
	m.SetBuildInfo(version)

	// Signing secret
	provider, err := secrets.New(cfg.Secrets)
	if err != nil {
		return fmt.Errorf("creating secrets provider: %w", err)
	}
	jwtSecret, err := secrets.ResolveJWTSecret(ctx, cfg, provider)
	if err != nil {
		return err
	}
	log.Info("jwt secret resolved", "provider", provider.Name())

	// Local database: audit trail and device registry
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	health := []api.HealthChecker{{Name: "database", Check: db.HealthCheck}}

	// Identity store
	ids, err := openIdentityStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer ids.close()
	if ids.check != nil {
		health = append(health, api.HealthChecker{Name: "identity_store", Check: ids.check})
	}
	log.Info("identity store ready", "driver", cfg.IdentityStore.Driver)

	// Security event bus
	auditRepo := audit.NewSQLiteRepository(db.DB)
	bus := events.NewBus(eventQueueSize, log.Logger,
		events.NewAuditSink(auditRepo),
		events.NewMetricsSink(m),
	)
	bus.OnDrop(func(ev auth.SecurityEvent) {
		m.EventDropped()
		log.Warn("security event dropped", "kind", ev.Kind, "tenant_id", ev.TenantID)
	})

	tokens, err := auth.NewTokenService(jwtSecret,
		auth.WithIssuer(cfg.Security.JWT.Issuer),
		auth.WithAccessTTL(cfg.Security.JWT.AccessTTL()),
		auth.WithRefreshTTL(cfg.Security.JWT.RefreshTTL()),
		auth.WithRememberMeTTL(cfg.Security.JWT.RememberTTL()),
	)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	authSvc := auth.NewService(auth.Deps{
		Accounts: ids.accounts,
		Roles:    ids.roles,
		Tenants:  ids.tenants,
		Sessions: ids.sessions,
		Tokens:   tokens,
		Events:   bus,
		Logger:   log.Logger,
	}, authConfig(cfg))

	if _, seedErr := auth.SeedSystem(ctx, ids.accounts, ids.roles, ids.tenants, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding identity store: %w", seedErr)
	}

	// Device registry
	devices := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	devices.SetLogger(log)
	if refreshErr := devices.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}

	// MQTT (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := connectMQTT(cfg, devices, log)
		if mqttErr != nil {
			return mqttErr
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		bus.Add(events.NewMQTTSink(mqttClient, mqttClient.Topics(), mqttClient.DefaultQoS(),
			cfg.MQTT.PublishRate, cfg.MQTT.PublishBurst))
		health = append(health, api.HealthChecker{Name: "mqtt", Check: mqttClient.HealthCheck})
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var telemetry api.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		bus.Add(events.NewTelemetrySink(influxClient))
		health = append(health, api.HealthChecker{Name: "influxdb", Check: influxClient.HealthCheck})
		telemetry = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// Rate limiter
	var limiter *ratelimit.SlidingWindow
	if cfg.Security.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.Security.RateLimit.Requests, cfg.Security.RateLimit.WindowDuration())
		go limiter.Run(ctx, cfg.Security.RateLimit.WindowDuration())
	}

	// The bus outlives the API server so events from in-flight requests
	// still reach every sink.
	busCtx, stopBus := context.WithCancel(context.Background())
	busDone := make(chan struct{})
	go func() {
		bus.Run(busCtx)
		close(busDone)
	}()
	defer func() {
		stopBus()
		<-busDone
		log.Info("security event bus drained")
	}()

	go sessionJanitor(ctx, ids.sessions, sessionJanitorInterval, log)

	srv, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Auth:      authSvc,
		Devices:   devices,
		Audit:     auditRepo,
		Events:    bus,
		Limiter:   limiter,
		Metrics:   m,
		Telemetry: telemetry,
		Health:    health,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	bus.Add(srv.Hub())

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Event bus (drains queued events)
	// 3. InfluxDB, MQTT (if enabled)
	// 4. Identity store
	// 5. Database
	return nil
}

// getConfigPath returns the configuration file path.
// Uses WARDEN_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WARDEN_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// authConfig maps deployment configuration onto the auth service settings.
func authConfig(cfg *config.Config) auth.Config {
	p := cfg.Security.PasswordPolicy
	return auth.Config{
		Lockout: auth.LockoutPolicy{
			MaxAttempts: cfg.Security.Lockout.MaxAttempts,
			Duration:    cfg.Security.Lockout.LockoutDuration(),
		},
		AdminLockDuration: cfg.Security.Lockout.AdminLock(),
		PasswordPolicy: auth.PasswordPolicy{
			MinLength:        p.MinLength,
			RequireUppercase: p.RequireUppercase,
			RequireLowercase: p.RequireLowercase,
			RequireNumbers:   p.RequireNumbers,
			RequireSpecial:   p.RequireSpecial,
			MaxAgeDays:       p.MaxAgeDays,
		},
	}
}

// identityStore bundles the repositories behind the auth service.
type identityStore struct {
	accounts auth.AccountRepository
	roles    auth.RoleRepository
	tenants  auth.TenantRepository
	sessions auth.SessionRepository
	check    func(context.Context) error
	close    func()
}

// openIdentityStore returns the repositories for the configured driver.
// The sqlite driver shares the local database; postgres opens its own pool.
func openIdentityStore(ctx context.Context, cfg *config.Config, db *database.DB) (*identityStore, error) {
	if cfg.IdentityStore.Driver != config.DriverPostgres {
		return &identityStore{
			accounts: auth.NewAccountRepository(db.DB),
			roles:    auth.NewRoleRepository(db.DB),
			tenants:  auth.NewTenantRepository(db.DB),
			sessions: auth.NewSessionRepository(db.DB),
			close:    func() {},
		}, nil
	}

	pg, err := postgres.Open(ctx, cfg.IdentityStore)
	if err != nil {
		return nil, fmt.Errorf("opening identity store: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("preparing identity store: %w", err)
	}
	return &identityStore{
		accounts: pg.Accounts(),
		roles:    pg.Roles(),
		tenants:  pg.Tenants(),
		sessions: pg.Sessions(),
		check:    pg.HealthCheck,
		close:    func() { pg.Close() },
	}, nil
}

// connectMQTT connects to the broker and subscribes the device registry to
// status reports.
func connectMQTT(cfg *config.Config, devices *device.Registry, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	topics := client.Topics()
	if err := client.Subscribe(topics.AllDeviceStatus(), client.DefaultQoS(), device.StatusHandler(devices, topics)); err != nil {
		client.Close()
		return nil, fmt.Errorf("subscribing to device status: %w", err)
	}
	return client, nil
}

// sessionJanitor deletes expired session rows until ctx is cancelled.
func sessionJanitor(ctx context.Context, sessions auth.SessionRepository, interval time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := sessions.DeleteExpired(ctx, now)
			if err != nil {
				log.Warn("session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("expired sessions removed", "count", n)
			}
		}
	}
}
