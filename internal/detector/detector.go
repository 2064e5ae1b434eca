package detector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Logger defines the logging interface for the detector.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EmitFunc is called once per newly present device path. An error stops
// the detector.
type EmitFunc func(devnode string) error

// Config selects which device nodes are reported.
type Config struct {
	// DevDir is the directory holding device nodes, normally /dev.
	DevDir string

	// Patterns are filepath.Match patterns applied to node names,
	// e.g. "ttyUSB*".
	Patterns []string
}

// Detector watches one directory for matching device nodes.
type Detector struct {
	cfg    Config
	logger Logger

	// present holds the names reported and not yet removed.
	present map[string]bool
}

// New validates cfg and returns a detector.
func New(cfg Config) (*Detector, error) {
	if cfg.DevDir == "" {
		return nil, fmt.Errorf("device directory is required")
	}
	if len(cfg.Patterns) == 0 {
		return nil, fmt.Errorf("at least one pattern is required")
	}
	for _, p := range cfg.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
	}
	return &Detector{
		cfg:     cfg,
		logger:  noopLogger{},
		present: make(map[string]bool),
	}, nil
}

// SetLogger sets the logger for the detector.
func (d *Detector) SetLogger(logger Logger) {
	d.logger = logger
}

// Run reports present devices, then watches for new ones until ctx is
// cancelled. It returns nil on cancellation.
func (d *Detector) Run(ctx context.Context, emit EmitFunc) error {
	return d.watch(ctx, emit)
}

// Matches reports whether a node name matches any pattern.
func (d *Detector) Matches(name string) bool {
	for _, p := range d.cfg.Patterns {
		if ok, _ := filepath.Match(p, name); ok { //nolint:errcheck // Patterns validated in New
			return true
		}
	}
	return false
}

// scan reports every matching node not already reported, in name order.
func (d *Detector) scan(emit EmitFunc) error {
	entries, err := os.ReadDir(d.cfg.DevDir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", d.cfg.DevDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if err := d.added(name, emit); err != nil {
			return err
		}
	}
	return nil
}

// added reports name if it matches and is new.
func (d *Detector) added(name string, emit EmitFunc) error {
	if !d.Matches(name) || d.present[name] {
		return nil
	}
	d.present[name] = true

	devnode := filepath.Join(d.cfg.DevDir, name)
	d.logger.Info("device found", "devnode", devnode)
	if err := emit(devnode); err != nil {
		return fmt.Errorf("reporting %s: %w", devnode, err)
	}
	return nil
}

// removed forgets name so a later re-creation is reported again.
func (d *Detector) removed(name string) {
	if d.present[name] {
		delete(d.present, name)
		d.logger.Debug("device node removed", "devnode", filepath.Join(d.cfg.DevDir, name))
	}
}

// prune forgets reported nodes that no longer exist.
func (d *Detector) prune() {
	for name := range d.present {
		if _, err := os.Lstat(filepath.Join(d.cfg.DevDir, name)); os.IsNotExist(err) {
			d.removed(name)
		}
	}
}
