// gridd-detector reports grid device nodes to the supervisor.
//
// Every matching node present at startup, and every one created later,
// is written to stdout as a Connection frame. When stdout is a terminal
// the paths are printed one per line instead.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/nerrad567/gridd/internal/detector"
	"github.com/nerrad567/gridd/internal/infrastructure/config"
	"github.com/nerrad567/gridd/internal/infrastructure/logging"
	"github.com/nerrad567/gridd/internal/ipc"
)

var version = "dev"

func main() {
	var configPath string
	fs := pflag.NewFlagSet("gridd-detector", pflag.ContinueOnError)
	fs.StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	if !interactive {
		// The supervisor holds our stdin open; EOF means it is gone.
		go func() {
			io.Copy(io.Discard, os.Stdin) //nolint:errcheck // Any error means the same as EOF
			cancel()
		}()
	}

	if err := run(ctx, configPath, os.Stdout, interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, out io.Writer, interactive bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Logging.Output = "stderr"
	log := logging.New(cfg.Logging, "gridd-detector", version)

	d, err := detector.New(detector.Config{
		DevDir:   cfg.Detector.DevDir,
		Patterns: cfg.Detector.Patterns,
	})
	if err != nil {
		return fmt.Errorf("creating detector: %w", err)
	}
	d.SetLogger(log)

	log.Info("watching for devices", "dir", cfg.Detector.DevDir, "patterns", cfg.Detector.Patterns)
	return d.Run(ctx, emitter(out, interactive))
}

// emitter writes each devnode as a frame, or as a line for a human.
func emitter(out io.Writer, interactive bool) detector.EmitFunc {
	if interactive {
		return func(devnode string) error {
			_, err := fmt.Fprintln(out, devnode)
			return err
		}
	}
	return func(devnode string) error {
		return ipc.WriteMessage(out, ipc.Connection{Devnode: devnode})
	}
}
