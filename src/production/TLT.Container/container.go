// Package container wires the service graph: config, logger, database,
// repositories, domain services, the MQTT dispatcher, the telemetry worker
// and the socket hub, with lazy construction and reverse-order cleanup.
package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	config "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Config"
	csvstore "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Csv"
	dispatcher "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Dispatcher"
	logger "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Logger"
	mvs "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Mvs"
	notify "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Notify"
	implementation "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Repository/Implementation"
	socket "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Socket"
	worker "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Worker"
)

// Container manages dependencies and their lifecycle.
type Container struct {
	config *config.Config
	logger *logger.Logger

	mu sync.Mutex
	db *sql.DB

	csvWriter  *csvstore.Writer
	socketHub  *socket.Hub
	telemetry  *worker.TelemetryWorker
	dispatcher *dispatcher.Dispatcher

	cleanupFuncs []func() error
}

// NewContainer loads configuration and builds the root of the graph.
func NewContainer() (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging)

	return &Container{config: cfg, logger: log}, nil
}

func (c *Container) GetConfig() *config.Config {
	return c.config
}

func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetDatabase opens the Postgres pool on first use and verifies connectivity.
func (c *Container) GetDatabase() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return c.db, nil
	}

	db, err := sql.Open("pgx", c.config.GetDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(c.config.Database.MaxConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	c.db = db
	c.cleanupFuncs = append(c.cleanupFuncs, db.Close)
	return c.db, nil
}

// GetCsvWriter returns the shared CSV persistence layer.
func (c *Container) GetCsvWriter() *csvstore.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.csvWriter == nil {
		c.csvWriter = csvstore.NewWriter(c.config.CSV.Dir, csvstore.NewMemoryHeaderCache())
	}
	return c.csvWriter
}

// BuildServices constructs the full pipeline behind the dispatcher. The
// dispatcher itself is returned unstarted.
func (c *Container) BuildServices(ctx context.Context) (*dispatcher.Dispatcher, error) {
	db, err := c.GetDatabase()
	if err != nil {
		return nil, err
	}

	deviceRepo := implementation.NewPostgresDeviceRepository(db)
	mvsRepo := implementation.NewPostgresMvsDeviceRepository(db)
	userRepo := implementation.NewPostgresUserRepository(db)
	txRunner := implementation.NewSQLTxRunner(db)

	c.mu.Lock()
	if c.telemetry == nil {
		// hub and worker reference each other through interfaces; the
		// dispatcher is the hub's command path, wired after construction
		c.socketHub = socket.NewHub(&c.config.Socket, nil, c.logger)
		c.telemetry = worker.NewTelemetryWorker(&c.config.Worker, c.socketHub, c.logger)
	}
	hub := c.socketHub
	telemetry := c.telemetry
	c.mu.Unlock()

	var pushSender notify.PushSender
	if c.config.Push.Enabled {
		sender, err := notify.NewFCMSender(ctx, c.config.Push.CredentialPath, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize push sender: %w", err)
		}
		pushSender = sender
	} else {
		c.logger.Warn("Push notifications disabled by configuration")
	}

	disconnectSvc := notify.NewDisconnectService(
		deviceRepo, userRepo, pushSender, hub, c.config.Push.Cooldown, c.logger)
	syncSvc := mvs.NewSyncService(txRunner, mvsRepo, c.logger)
	deleteSvc := mvs.NewDeleteService(mvsRepo, c.logger)

	router := dispatcher.NewRouter(
		c.GetCsvWriter(),
		disconnectSvc,
		deleteSvc,
		syncSvc,
		nil, // republisher needs the dispatcher; set below
		telemetry,
		deviceRepo,
		c.logger,
	)

	d := dispatcher.New(&c.config.MQTT, router, c.logger)
	router.SetRepublisher(mvs.NewRepublishService(mvsRepo, d, c.logger))
	hub.SetCommander(d)

	c.mu.Lock()
	c.dispatcher = d
	c.mu.Unlock()
	return d, nil
}

// GetSocketHub returns the websocket hub. BuildServices must run first.
func (c *Container) GetSocketHub() *socket.Hub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketHub
}

// GetTelemetryWorker returns the broadcast worker. BuildServices must run
// first.
func (c *Container) GetTelemetryWorker() *worker.TelemetryWorker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.telemetry
}

// GetDispatcher returns the MQTT dispatcher. BuildServices must run first.
func (c *Container) GetDispatcher() *dispatcher.Dispatcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatcher
}

// AddCleanupFunc registers a function to run during shutdown.
func (c *Container) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown runs cleanup functions in reverse registration order.
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Container shutdown complete")
	return nil
}
