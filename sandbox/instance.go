package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/devroom-ai/devroom/filetree"
)

// Config configures a sandbox Instance.
type Config struct {
	Runtime        Runtime
	Observer       Observer // optional
	InstallCommand []string // defaults to "npm install"
	StartCommand   []string // defaults to "npm start"
}

// Instance owns one sandbox runtime and at most one live start process.
// All operations on an Instance are serialized: a Run issued while another
// is in flight waits for it, then replaces its server.
type Instance struct {
	runtime    Runtime
	observer   Observer
	installCmd []string
	startCmd   []string

	mu    sync.Mutex
	state State
	start Process
}

// New creates an idle sandbox instance.
func New(cfg Config) *Instance {
	inst := &Instance{
		runtime:    cfg.Runtime,
		observer:   cfg.Observer,
		installCmd: cfg.InstallCommand,
		startCmd:   cfg.StartCommand,
		state:      StateIdle,
	}
	if len(inst.installCmd) == 0 {
		inst.installCmd = []string{"npm", "install"}
	}
	if len(inst.startCmd) == 0 {
		inst.startCmd = []string{"npm", "start"}
	}
	return inst
}

// State reports the instance's current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// RunTree flattens a file tree and runs it. See Run.
func (i *Instance) RunTree(ctx context.Context, root *filetree.Node) (string, error) {
	return i.Run(ctx, filetree.Flatten(root))
}

// Run mounts the given files, installs dependencies, and starts the dev
// server. It returns the preview URL once the server reports ready. An
// empty URL with a nil error means the start command exited cleanly
// without ever serving (a script, not a server).
//
// Any previously started server is killed, and its termination awaited,
// before the new one is spawned.
func (i *Instance) Run(ctx context.Context, files map[string]string) (string, error) {
	manifest, ok := files["package.json"]
	if !ok {
		return "", configError("no package.json in file tree")
	}
	if !json.Valid([]byte(manifest)) {
		return "", configError("package.json is not valid JSON")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.state = StateMounting
	if err := i.runtime.Mount(ctx, files); err != nil {
		i.state = StateIdle
		return "", fmt.Errorf("mounting files: %w", err)
	}

	if err := i.killStartLocked(ctx); err != nil {
		i.state = StateIdle
		return "", fmt.Errorf("replacing previous server: %w", err)
	}

	i.state = StateInstalling
	if err := i.install(ctx); err != nil {
		i.state = StateInstallFailed
		return "", err
	}

	i.state = StateStarting
	url, err := i.startServer(ctx)
	if err != nil {
		i.state = StateIdle
		return "", err
	}
	if url == "" {
		i.state = StateIdle
		return "", nil
	}
	i.state = StateRunning
	return url, nil
}

// Stop kills the current start process, if any, and returns the instance
// to idle.
func (i *Instance) Stop(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	err := i.killStartLocked(ctx)
	i.state = StateIdle
	return err
}

// Close stops the instance and releases its runtime.
func (i *Instance) Close(ctx context.Context) error {
	if err := i.Stop(ctx); err != nil {
		return err
	}
	return i.runtime.Close(ctx)
}

// killStartLocked terminates the recorded start process and awaits its
// exit. Caller holds i.mu.
func (i *Instance) killStartLocked(ctx context.Context) error {
	if i.start == nil {
		return nil
	}
	proc := i.start
	i.start = nil
	if err := proc.Kill(ctx); err != nil {
		return fmt.Errorf("killing start process: %w", err)
	}
	if _, err := proc.Wait(ctx); err != nil {
		return fmt.Errorf("awaiting start process exit: %w", err)
	}
	return nil
}

func (i *Instance) install(ctx context.Context) error {
	proc, err := i.runtime.Spawn(ctx, i.installCmd[0], i.installCmd[1:]...)
	if err != nil {
		return &StageError{Stage: StageInstall, ExitCode: -1, Err: err}
	}
	i.stream(StageInstall, proc.Output())
	code, err := proc.Wait(ctx)
	if err != nil {
		return &StageError{Stage: StageInstall, ExitCode: -1, Err: err}
	}
	if code != 0 {
		return &StageError{Stage: StageInstall, ExitCode: code, Err: fmt.Errorf("install command exited")}
	}
	return nil
}

// startServer spawns the start command and waits for either a ready URL
// or a premature exit.
func (i *Instance) startServer(ctx context.Context) (string, error) {
	// Drop any stale ready notification left over from a replaced server.
	select {
	case <-i.runtime.Ready():
	default:
	}

	proc, err := i.runtime.Spawn(ctx, i.startCmd[0], i.startCmd[1:]...)
	if err != nil {
		return "", &StageError{Stage: StageStart, ExitCode: -1, Err: err}
	}
	i.start = proc

	go i.stream(StageStart, proc.Output())

	exitCh := make(chan int, 1)
	errCh := make(chan error, 1)
	go func() {
		code, err := proc.Wait(context.WithoutCancel(ctx))
		if err != nil {
			errCh <- err
			return
		}
		exitCh <- code
	}()

	select {
	case url := <-i.runtime.Ready():
		return url, nil
	case code := <-exitCh:
		i.start = nil
		if code != 0 {
			return "", &StageError{Stage: StageStart, ExitCode: code, Err: fmt.Errorf("server exited before ready")}
		}
		return "", nil
	case err := <-errCh:
		i.start = nil
		return "", &StageError{Stage: StageStart, ExitCode: -1, Err: err}
	case <-ctx.Done():
		_ = proc.Kill(context.WithoutCancel(ctx))
		i.start = nil
		return "", ctx.Err()
	}
}

// stream forwards process output lines to the observer, if any.
func (i *Instance) stream(stage Stage, out LineScanner) {
	defer out.Close()
	for out.Scan() {
		if i.observer != nil {
			i.observer.ProcessOutput(stage, out.Text())
		}
	}
}
