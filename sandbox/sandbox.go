// Package sandbox runs generated projects in an isolated environment:
// mount a file mapping, install dependencies, start the dev server, and
// surface the preview URL once the server reports ready.
package sandbox

import (
	"context"
	"fmt"
)

// State describes where a sandbox instance is in its lifecycle.
type State string

const (
	StateIdle          State = "idle"
	StateMounting      State = "mounting"
	StateInstalling    State = "installing"
	StateInstallFailed State = "install_failed"
	StateStarting      State = "starting"
	StateRunning       State = "running"
)

// Stage identifies which step of a run an error is attributable to.
type Stage string

const (
	StageConfig  Stage = "config"
	StageInstall Stage = "install"
	StageStart   Stage = "start"
)

// StageError reports a failed run step. ExitCode is -1 when the failure
// happened before a process exited.
type StageError struct {
	Stage    Stage
	ExitCode int
	Err      error
}

func (e *StageError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("sandbox %s failed (exit %d): %v", e.Stage, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("sandbox %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// configError builds a StageError for a pre-mount validation failure.
func configError(format string, args ...any) *StageError {
	return &StageError{Stage: StageConfig, ExitCode: -1, Err: fmt.Errorf(format, args...)}
}

// LineScanner reads process output one line at a time.
type LineScanner interface {
	Scan() bool
	Text() string
	Err() error
	Close() error
}

// Process is a command running inside the sandbox.
type Process interface {
	// Output returns the merged stdout/stderr line stream. It may be
	// consumed at most once.
	Output() LineScanner
	// Wait blocks until the process exits and returns its exit code.
	Wait(ctx context.Context) (int, error)
	// Kill terminates the process. Callers still Wait afterwards to
	// observe termination.
	Kill(ctx context.Context) error
}

// Runtime is the execution environment a sandbox instance drives.
type Runtime interface {
	// Mount replaces the sandbox filesystem wholesale with the given
	// path-to-contents mapping.
	Mount(ctx context.Context, files map[string]string) error
	// Spawn starts a command in the sandbox working directory.
	Spawn(ctx context.Context, command string, args ...string) (Process, error)
	// Ready delivers the preview URL once the runtime detects that a
	// server is accepting connections. One value per started server.
	Ready() <-chan string
	// Close releases the runtime's resources.
	Close(ctx context.Context) error
}

// Observer receives process output lines as a run progresses. Implementations
// must not block; slow consumers should drop or buffer on their side.
type Observer interface {
	ProcessOutput(stage Stage, line string)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(stage Stage, line string)

func (f ObserverFunc) ProcessOutput(stage Stage, line string) { f(stage, line) }
