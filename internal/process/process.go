package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// maxLogLine bounds one captured stderr line.
const maxLogLine = 64 * 1024

// Config holds configuration for a child process.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for the process.
	// If empty, inherits from parent process.
	WorkDir string

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration
}

// Logger defines the logging interface for child processes.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Process is a running child with pipes attached to its stdin and stdout.
type Process struct {
	config Config
	logger Logger

	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File

	mu      sync.RWMutex
	exitErr error

	done chan struct{}
}

// Start launches the child described by cfg. The returned process owns
// the parent ends of the stdin and stdout pipes.
func Start(ctx context.Context, cfg Config, logger Logger) (*Process, error) {
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 5 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Binary
	}
	if logger == nil {
		logger = noopLogger{}
	}

	p := &Process{
		config: cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
	if err := p.start(ctx); err != nil {
		return nil, err
	}

	go p.monitor()

	return p, nil
}

// start creates the pipes and execs the child. os.Pipe is used rather than
// Cmd.StdoutPipe so that Wait never closes a pipe the caller is still
// draining.
func (p *Process) start(ctx context.Context) error {
	p.logger.Debug("starting process",
		"name", p.config.Name,
		"binary", p.config.Binary,
		"args", p.config.Args,
	)

	cmd := exec.CommandContext(ctx, p.config.Binary, p.config.Args...) //nolint:gosec // binary paths come from validated config

	// Create a new process group so we can signal all children on shutdown
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return signalGroup(cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = p.config.GracefulTimeout

	if p.config.Env != nil {
		cmd.Env = append(os.Environ(), p.config.Env...)
	}
	if p.config.WorkDir != "" {
		cmd.Dir = p.config.WorkDir
	}

	inR, inW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW)
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW, outR, outW)
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		closeAll(inR, inW, outR, outW, errR, errW)
		return fmt.Errorf("starting %s: %w", p.config.Name, err)
	}

	// The child holds its own copies now.
	closeAll(inR, outW, errW)

	p.cmd = cmd
	p.stdin = inW
	p.stdout = outR

	go p.captureStderr(errR)

	p.logger.Info("process started",
		"name", p.config.Name,
		"pid", cmd.Process.Pid,
	)

	return nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}

// captureStderr logs each line the child writes to stderr.
func (p *Process) captureStderr(r io.ReadCloser) {
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), maxLogLine)
	for scanner.Scan() {
		p.logger.Info("process output",
			"name", p.config.Name,
			"line", scanner.Text(),
		)
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug("stderr capture ended", "name", p.config.Name, "error", err)
	}
}

// monitor waits for the child and records how it ended.
func (p *Process) monitor() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()

	if err != nil {
		p.logger.Info("process exited", "name", p.config.Name, "error", err)
	} else {
		p.logger.Info("process exited", "name", p.config.Name)
	}

	close(p.done)
}

// Output returns the read end of the child's stdout.
func (p *Process) Output() io.Reader {
	return p.stdout
}

// Input returns the write end of the child's stdin.
func (p *Process) Input() io.Writer {
	return p.stdin
}

// CloseInput closes the child's stdin, which it sees as end of file.
func (p *Process) CloseInput() error {
	return p.stdin.Close()
}

// CloseOutput closes the parent's read end of the child's stdout.
func (p *Process) CloseOutput() error {
	return p.stdout.Close()
}

// Done is closed once the child has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit error once Done is closed.
func (p *Process) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// PID returns the process ID.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Terminate sends SIGTERM to the child's process group and returns without
// waiting.
func (p *Process) Terminate() error {
	if p.exited() {
		return nil
	}
	return signalGroup(p.PID(), syscall.SIGTERM)
}

// Kill sends SIGKILL to the child's process group.
func (p *Process) Kill() error {
	if p.exited() {
		return nil
	}
	return signalGroup(p.PID(), syscall.SIGKILL)
}

// Stop gracefully stops the child.
// It sends SIGTERM and waits for graceful shutdown, then SIGKILL if needed.
func (p *Process) Stop() error {
	if p.exited() {
		return nil
	}

	pid := p.PID()
	p.logger.Info("stopping process", "name", p.config.Name, "pid", pid)

	if err := p.Terminate(); err != nil {
		p.logger.Warn("failed to send SIGTERM to process group", "name", p.config.Name, "error", err)
	}

	select {
	case <-p.done:
		p.logger.Info("process stopped gracefully", "name", p.config.Name)
		return nil
	case <-time.After(p.config.GracefulTimeout):
		p.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", p.config.Name,
			"timeout", p.config.GracefulTimeout,
		)
	}

	if err := p.Kill(); err != nil {
		return fmt.Errorf("killing process group %s: %w", p.config.Name, err)
	}

	<-p.done
	p.logger.Info("process killed", "name", p.config.Name)

	return nil
}

func (p *Process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// signalGroup signals the process group led by pid. A group that is already
// gone is not an error.
func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
