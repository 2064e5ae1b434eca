// gridd-device serves one grid controller over OSC.
//
// The supervisor starts it with the device node as its last argument and
// reads lifecycle frames from its stdout. Run by hand from a terminal it
// serves the grid standalone and writes no frames.
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
	"golang.org/x/term"

	"github.com/nerrad567/gridd/internal/devicestate"
	"github.com/nerrad567/gridd/internal/grid"
	"github.com/nerrad567/gridd/internal/infrastructure/config"
	"github.com/nerrad567/gridd/internal/infrastructure/database"
	"github.com/nerrad567/gridd/internal/infrastructure/logging"
	"github.com/nerrad567/gridd/internal/worker"
	"github.com/nerrad567/gridd/migrations"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

type options struct {
	configPath string
	listenHost string
	devnode    string
	standalone bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	// SIGTERM comes from the supervisor when it gives up waiting on
	// ShouldExit.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("gridd-device", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file")
	fs.StringVar(&opts.listenHost, "listen", "", "address the OSC server binds to (default all interfaces)")
	fs.BoolVar(&opts.standalone, "standalone", false, "do not exchange lifecycle frames on stdin/stdout")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() != 1 {
		return options{}, fmt.Errorf("usage: gridd-device [flags] <devnode>")
	}
	opts.devnode = fs.Arg(0)
	return opts, nil
}

// attachedToTerminal reports whether stdout is an interactive terminal,
// in which case IPC frames would only corrupt the display.
func attachedToTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// stdout carries IPC frames.
	cfg.Logging.Output = "stderr"
	log := logging.New(cfg.Logging, "gridd-device", version).With("devnode", opts.devnode)
	log.Debug("starting worker", "commit", commit)

	port, err := grid.OpenPort(opts.devnode)
	if err != nil {
		return err
	}

	wopts := worker.Options{
		Devnode:    opts.devnode,
		Port:       port,
		ListenHost: opts.listenHost,
		Defaults: worker.Defaults{
			ServerPort: cfg.Device.ServerPort,
			AppHost:    cfg.Device.AppHost,
			AppPort:    cfg.Device.AppPort,
			Prefix:     cfg.Device.Prefix,
			Rotation:   cfg.Device.Rotation,
		},
		Logger: log,
	}

	if !opts.standalone && !attachedToTerminal() {
		wopts.Parent = os.Stdout
		wopts.ParentIn = os.Stdin
	} else {
		log.Info("running standalone")
	}

	if cfg.Device.PersistState {
		db, dbErr := database.Open(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		switch {
		case dbErr != nil:
			log.Warn("settings will not persist", "error", dbErr)
		default:
			defer db.Close() //nolint:errcheck // Exiting
			if migErr := db.Migrate(ctx, migrations.FS); migErr != nil {
				log.Warn("settings will not persist", "error", migErr)
			} else {
				wopts.Store = devicestate.NewSQLiteRepository(db.DB)
			}
		}
	}

	w, err := worker.New(wopts)
	if err != nil {
		port.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("creating worker: %w", err)
	}

	err = w.Run(ctx)
	if errors.Is(err, worker.ErrIdentifyTimeout) {
		return fmt.Errorf("%s: %w", filepath.Base(opts.devnode), err)
	}
	return err
}
