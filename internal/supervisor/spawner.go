package supervisor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/gridd/internal/process"
)

// Child is a running subprocess with IPC pipes. *process.Process
// satisfies it.
type Child interface {
	// Output carries IPC frames from the child.
	Output() io.Reader

	// Input carries IPC frames to the child.
	Input() io.Writer

	// CloseInput closes the child's stdin.
	CloseInput() error

	// CloseOutput releases the parent's end of the child's stdout once
	// it has been drained.
	CloseOutput() error

	// Done is closed once the child has exited.
	Done() <-chan struct{}

	// Err is the exit error once Done is closed.
	Err() error

	PID() int
	Terminate() error
	Kill() error

	// Stop terminates the child and kills it if it outlives its grace
	// period. It returns once the child has exited.
	Stop() error
}

// Spawner launches the detector and workers.
type Spawner interface {
	SpawnDetector(ctx context.Context) (Child, error)
	SpawnWorker(ctx context.Context, devnode string) (Child, error)
}

// ExecSpawner runs the detector and worker binaries as child processes.
type ExecSpawner struct {
	DetectorBinary string
	DetectorArgs   []string

	// WorkerArgs precede the devnode, which is always the last argument.
	WorkerBinary string
	WorkerArgs   []string

	// GracefulTimeout is how long Stop waits after SIGTERM.
	GracefulTimeout time.Duration

	Logger process.Logger
}

// SpawnDetector starts the detector binary.
func (e *ExecSpawner) SpawnDetector(ctx context.Context) (Child, error) {
	p, err := process.Start(ctx, process.Config{
		Name:            "detector",
		Binary:          e.DetectorBinary,
		Args:            e.DetectorArgs,
		GracefulTimeout: e.GracefulTimeout,
	}, e.Logger)
	if err != nil {
		return nil, fmt.Errorf("spawning detector: %w", err)
	}
	return p, nil
}

// SpawnWorker starts a worker for devnode.
func (e *ExecSpawner) SpawnWorker(ctx context.Context, devnode string) (Child, error) {
	args := append(append([]string(nil), e.WorkerArgs...), devnode)
	p, err := process.Start(ctx, process.Config{
		Name:            "worker " + devnode,
		Binary:          e.WorkerBinary,
		Args:            args,
		GracefulTimeout: e.GracefulTimeout,
	}, e.Logger)
	if err != nil {
		return nil, fmt.Errorf("spawning worker for %s: %w", devnode, err)
	}
	return p, nil
}
