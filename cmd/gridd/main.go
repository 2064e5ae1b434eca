// gridd supervises grid controllers attached over USB serial.
//
// It runs the device detector, starts one gridd-device worker per grid,
// and answers discovery requests on the OSC control port. Optional
// components mirror device events onto MQTT, InfluxDB and a local
// HTTP/WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/nerrad567/gridd/internal/api"
	"github.com/nerrad567/gridd/internal/devicestate"
	"github.com/nerrad567/gridd/internal/infrastructure/config"
	"github.com/nerrad567/gridd/internal/infrastructure/database"
	"github.com/nerrad567/gridd/internal/infrastructure/influxdb"
	"github.com/nerrad567/gridd/internal/infrastructure/logging"
	"github.com/nerrad567/gridd/internal/infrastructure/mqtt"
	"github.com/nerrad567/gridd/internal/supervisor"
	"github.com/nerrad567/gridd/internal/telemetry"
	"github.com/nerrad567/gridd/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// options are the command-line flags.
type options struct {
	configPath  string
	showVersion bool
	disabled    bool
	rollback    bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("gridd %s (%s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("gridd", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file (default $GRIDD_CONFIG or <state dir>/config.yaml)")
	fs.BoolVarP(&opts.showVersion, "version", "v", false, "print the version and exit")
	fs.BoolVar(&opts.disabled, "disabled", false, "start with device detection disabled")
	fs.BoolVar(&opts.rollback, "rollback-migration", false, "roll back the most recent database migration and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	opts.configPath = resolveConfigPath(opts.configPath)
	return opts, nil
}

// resolveConfigPath prefers the flag, then GRIDD_CONFIG, then the state
// directory. A missing file there just means defaults.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("GRIDD_CONFIG"); path != "" {
		return path
	}
	return filepath.Join(config.StateDir(), "config.yaml")
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context, opts options) error {
	log := logging.Default("gridd")

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.disabled {
		cfg.Supervisor.StartEnabled = false
	}

	log = logging.New(cfg.Logging, "gridd", version)
	log.Info("starting gridd",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", opts.configPath,
	)

	if opts.rollback {
		return rollbackMigration(ctx, cfg, log)
	}

	var sinks []supervisor.EventSink

	// Device attach history shares the database with the workers.
	var (
		db      *database.DB
		history *devicestate.SQLiteRepository
	)
	if cfg.Device.PersistState {
		db, err = openDatabase(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		history = devicestate.NewSQLiteRepository(db.DB)
		historySink := supervisor.NewHistorySink(history, log)
		defer historySink.Close()
		sinks = append(sinks, historySink)
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"prefix", mqttClient.Topics().Prefix(),
		)

		mqttSink := telemetry.NewMQTTSink(mqttClient, mqttClient.Topics(), mqttClient.QoS(), log)
		defer mqttSink.Close()
		sinks = append(sinks, mqttSink)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		sinks = append(sinks, telemetry.NewInfluxSink(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log)
		sinks = append(sinks, hub)
	}

	workerArgs := []string{"--config", opts.configPath}
	sup, err := supervisor.New(supervisor.Options{
		ControlAddr: cfg.ControlAddr(),
		Spawner: &supervisor.ExecSpawner{
			DetectorBinary:  cfg.Supervisor.DetectorBinary,
			DetectorArgs:    workerArgs,
			WorkerBinary:    cfg.Supervisor.WorkerBinary,
			WorkerArgs:      workerArgs,
			GracefulTimeout: cfg.GetShutdownTimeout(),
			Logger:          log,
		},
		Capacity:           cfg.Supervisor.Capacity,
		SubscriberCapacity: cfg.Supervisor.SubscriberCapacity,
		DrainInterval:      cfg.GetDrainInterval(),
		ShutdownTimeout:    cfg.GetShutdownTimeout(),
		StartEnabled:       cfg.Supervisor.StartEnabled,
		Version:            version,
		Commit:             commit,
		Sinks:              sinks,
		Logger:             log,
	})
	if err != nil {
		return fmt.Errorf("creating supervisor: %w", err)
	}
	log.Info("control port bound", "address", cfg.ControlAddr(), "port", sup.ControlPort())

	if mqttClient != nil {
		cmds := telemetry.NewCommands(sup, mqttClient.Topics(), log)
		if subErr := cmds.Subscribe(mqttClient, mqttClient.QoS()); subErr != nil {
			log.Warn("failed to subscribe to MQTT commands", "error", subErr)
		}
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log,
			Supervisor: sup,
			Hub:        hub,
			Version:    version,
		}
		if history != nil {
			deps.History = history
		}
		apiServer, err = api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}

	log.Info("gridd stopped")
	return nil
}

// openDatabase opens and migrates the settings database.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)
	return db, nil
}

// rollbackMigration reverts the newest applied migration. The database is
// opened without migrating so the rollback sees the schema as it is.
func rollbackMigration(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // rollback already committed or failed

	if err := db.MigrateDown(ctx, migrations.FS); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	log.Info("rolled back most recent migration", "path", cfg.Database.Path)
	return nil
}

// healthCheck verifies the enabled components. Disabled ones are nil.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if apiServer != nil {
		if err := apiServer.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}
	return nil
}
