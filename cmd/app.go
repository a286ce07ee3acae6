package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"borrowledger/config"
	"borrowledger/database"
	"borrowledger/events"
	"borrowledger/infrastructure"
	"borrowledger/infrastructure/observability"
	"borrowledger/kvstore"
	"borrowledger/pool"
	"borrowledger/repository"
	"borrowledger/service"

	log "github.com/sirupsen/logrus"
)

// App holds the wired ledger and everything that must be closed with it
type App struct {
	Config *config.Config
	Ledger service.LedgerService

	closers []func()
}

// NewApp wires storage, event publishing, metrics and the ledger service from cfg
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	if err := observability.InitializeGlobalMetrics(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	app.closers = append(app.closers, func() {
		if err := observability.ShutdownGlobalMetrics(context.Background()); err != nil {
			log.WithError(err).Warn("Failed to shut down metrics")
		}
	})

	publisher, err := app.newPublisher(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	uowFactory, err := app.newUnitOfWorkFactory(ctx, publisher)
	if err != nil {
		app.Close()
		return nil, err
	}

	valuation, err := pool.NewSharePool(cfg.PoolTotalSize, cfg.PoolTotalShares)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("invalid share pool: %w", err)
	}

	var metrics service.MetricsRecorder
	if mp := observability.GetMetrics(); mp != nil {
		metrics = mp
	}
	app.Ledger = service.NewLedgerService(uowFactory, valuation, metrics)

	log.WithFields(log.Fields{
		"backend":     cfg.StorageBackend,
		"environment": cfg.Environment,
		"poolSize":    cfg.PoolTotalSize,
		"poolShares":  cfg.PoolTotalShares,
	}).Debug("Ledger initialized")

	return app, nil
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) newPublisher(ctx context.Context) (events.Publisher, error) {
	if a.Config.NATSServers == "" {
		bus := events.NewBus()
		for _, eventType := range []events.EventType{
			events.EventTypeBorrowerLimitSet,
			events.EventTypeBorrowerSaved,
			events.EventTypeSharesBorrowed,
			events.EventTypeSharesRepaid,
			events.EventTypeLedgerMigrated,
		} {
			bus.Subscribe(eventType, logEvent)
		}
		log.Debug("No NATS servers configured, using in-process event bus")
		return bus, nil
	}

	client := infrastructure.NewNATSClient(a.Config.NATSServers)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			log.WithError(err).Warn("Failed to close NATS client")
		}
	})

	publisher := infrastructure.NewNATSEventPublisher(client, infrastructure.NewEventSubjectMapper())
	if err := publisher.EnsureLedgerEventStream(client); err != nil {
		return nil, err
	}
	return publisher, nil
}

func (a *App) newUnitOfWorkFactory(ctx context.Context, publisher events.Publisher) (service.UnitOfWorkFactory, error) {
	switch a.Config.StorageBackend {
	case config.BackendPostgres:
		db, err := database.NewConnection(ctx, a.Config.GetDatabaseURL())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		log.Debug("Database connection established")
		return repository.NewUnitOfWorkFactory(db, publisher), nil

	case config.BackendLevelDB:
		db, err := kvstore.Open(a.Config.LevelDBPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		return kvstore.NewUnitOfWorkFactory(db, publisher), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.Config.StorageBackend)
	}
}

func logEvent(ctx context.Context, event events.Event) {
	log.WithField("eventType", event.Type()).Debug("Ledger event published")
}

// SetupLogging configures the global logrus logger from cfg
func SetupLogging(cfg *config.Config) {
	log.SetOutput(os.Stderr)

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(cfg.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
