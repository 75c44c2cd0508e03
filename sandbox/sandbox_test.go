package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// stubBehavior scripts one spawned process.
type stubBehavior struct {
	lines    []string
	exit     int
	stay     bool   // process runs until killed
	readyURL string // announce this URL when spawned
}

type stubRuntime struct {
	mu        sync.Mutex
	events    []string
	mounted   map[string]string
	behaviors []stubBehavior
	spawned   int
	alive     map[string]bool
	ready     chan string
}

func newStubRuntime(behaviors ...stubBehavior) *stubRuntime {
	return &stubRuntime{
		behaviors: behaviors,
		alive:     make(map[string]bool),
		ready:     make(chan string, 1),
	}
}

func (r *stubRuntime) record(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *stubRuntime) Mount(ctx context.Context, files map[string]string) error {
	r.record("mount")
	r.mu.Lock()
	r.mounted = files
	r.mu.Unlock()
	return nil
}

func (r *stubRuntime) Spawn(ctx context.Context, command string, args ...string) (Process, error) {
	r.mu.Lock()
	r.spawned++
	var behavior stubBehavior
	if len(r.behaviors) > 0 {
		behavior = r.behaviors[0]
		r.behaviors = r.behaviors[1:]
	}
	name := fmt.Sprintf("%s#%d", strings.Join(append([]string{command}, args...), " "), r.spawned)
	r.alive[name] = true
	r.mu.Unlock()

	r.record("spawn " + name)
	proc := &stubProcess{runtime: r, name: name, behavior: behavior, done: make(chan struct{})}
	if !behavior.stay {
		r.mu.Lock()
		r.alive[name] = false
		r.mu.Unlock()
		close(proc.done)
	}
	if behavior.readyURL != "" {
		r.ready <- behavior.readyURL
	}
	return proc, nil
}

func (r *stubRuntime) Ready() <-chan string            { return r.ready }
func (r *stubRuntime) Close(ctx context.Context) error { return nil }

func (r *stubRuntime) liveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, alive := range r.alive {
		if alive {
			n++
		}
	}
	return n
}

func (r *stubRuntime) eventIndex(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.events {
		if e == event {
			return i
		}
	}
	return -1
}

type stubProcess struct {
	runtime  *stubRuntime
	name     string
	behavior stubBehavior
	done     chan struct{}
	killOnce sync.Once
}

func (p *stubProcess) Output() LineScanner {
	return &sliceScanner{lines: p.behavior.lines}
}

func (p *stubProcess) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.behavior.exit, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (p *stubProcess) Kill(ctx context.Context) error {
	p.killOnce.Do(func() {
		p.runtime.record("kill " + p.name)
		p.runtime.mu.Lock()
		p.runtime.alive[p.name] = false
		p.runtime.mu.Unlock()
		close(p.done)
	})
	return nil
}

type sliceScanner struct {
	lines []string
	pos   int
}

func (s *sliceScanner) Scan() bool {
	if s.pos >= len(s.lines) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceScanner) Text() string { return s.lines[s.pos-1] }
func (s *sliceScanner) Err() error   { return nil }
func (s *sliceScanner) Close() error { return nil }

func validFiles() map[string]string {
	return map[string]string{
		"package.json": `{"name":"demo","scripts":{"start":"node index.js"}}`,
		"index.js":     "console.log('hi')",
	}
}

func TestRunRejectsMissingPackageJSON(t *testing.T) {
	rt := newStubRuntime()
	inst := New(Config{Runtime: rt})

	_, err := inst.Run(context.Background(), map[string]string{"index.js": "x"})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageConfig {
		t.Fatalf("expected config stage error, got %v", err)
	}
	if rt.mounted != nil {
		t.Fatal("nothing should be mounted after a config failure")
	}
	if inst.State() != StateIdle {
		t.Fatalf("state = %q, want idle", inst.State())
	}
}

func TestRunRejectsInvalidPackageJSON(t *testing.T) {
	rt := newStubRuntime()
	inst := New(Config{Runtime: rt})

	files := validFiles()
	files["package.json"] = "{not json"
	_, err := inst.Run(context.Background(), files)
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageConfig {
		t.Fatalf("expected config stage error, got %v", err)
	}
	if rt.mounted != nil {
		t.Fatal("nothing should be mounted after a config failure")
	}
}

func TestRunInstallFailureSkipsStart(t *testing.T) {
	rt := newStubRuntime(
		stubBehavior{lines: []string{"npm ERR! missing dep"}, exit: 1},
	)
	inst := New(Config{Runtime: rt})

	_, err := inst.Run(context.Background(), validFiles())
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageInstall {
		t.Fatalf("expected install stage error, got %v", err)
	}
	if stageErr.ExitCode != 1 {
		t.Fatalf("exit code = %d, want 1", stageErr.ExitCode)
	}
	if inst.State() != StateInstallFailed {
		t.Fatalf("state = %q, want install_failed", inst.State())
	}
	if rt.spawned != 1 {
		t.Fatalf("spawned %d processes, want install only", rt.spawned)
	}
}

func TestRunReturnsReadyURL(t *testing.T) {
	rt := newStubRuntime(
		stubBehavior{exit: 0},
		stubBehavior{stay: true, readyURL: "http://127.0.0.1:5173"},
	)
	inst := New(Config{Runtime: rt})

	url, err := inst.Run(context.Background(), validFiles())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if url != "http://127.0.0.1:5173" {
		t.Fatalf("url = %q", url)
	}
	if inst.State() != StateRunning {
		t.Fatalf("state = %q, want running", inst.State())
	}
	if got := rt.liveCount(); got != 1 {
		t.Fatalf("live processes = %d, want 1", got)
	}
}

func TestRunStartExitsNonZero(t *testing.T) {
	rt := newStubRuntime(
		stubBehavior{exit: 0},
		stubBehavior{lines: []string{"Error: EADDRINUSE"}, exit: 2},
	)
	inst := New(Config{Runtime: rt})

	_, err := inst.Run(context.Background(), validFiles())
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageStart {
		t.Fatalf("expected start stage error, got %v", err)
	}
	if stageErr.ExitCode != 2 {
		t.Fatalf("exit code = %d, want 2", stageErr.ExitCode)
	}
	if inst.State() != StateIdle {
		t.Fatalf("state = %q, want idle", inst.State())
	}
}

func TestRunScriptExitsCleanly(t *testing.T) {
	rt := newStubRuntime(
		stubBehavior{exit: 0},
		stubBehavior{lines: []string{"done"}, exit: 0},
	)
	inst := New(Config{Runtime: rt})

	url, err := inst.Run(context.Background(), validFiles())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if url != "" {
		t.Fatalf("url = %q, want empty for a non-server script", url)
	}
	if inst.State() != StateIdle {
		t.Fatalf("state = %q, want idle", inst.State())
	}
}

func TestKillBeforeSpawn(t *testing.T) {
	rt := newStubRuntime(
		stubBehavior{exit: 0},                                       // install #1
		stubBehavior{stay: true, readyURL: "http://127.0.0.1:4000"}, // start #2
		stubBehavior{exit: 0},                                       // install #3
		stubBehavior{stay: true, readyURL: "http://127.0.0.1:4001"}, // start #4
	)
	inst := New(Config{Runtime: rt})

	if _, err := inst.Run(context.Background(), validFiles()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	url, err := inst.Run(context.Background(), validFiles())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if url != "http://127.0.0.1:4001" {
		t.Fatalf("url = %q", url)
	}

	if got := rt.liveCount(); got != 1 {
		t.Fatalf("live processes = %d, want exactly 1", got)
	}
	killIdx := rt.eventIndex("kill npm start#2")
	spawnIdx := rt.eventIndex("spawn npm start#4")
	if killIdx == -1 || spawnIdx == -1 {
		t.Fatalf("missing kill or respawn events: %v", rt.events)
	}
	if killIdx > spawnIdx {
		t.Fatalf("first server killed after second spawned: %v", rt.events)
	}
}

func TestStopKillsServer(t *testing.T) {
	rt := newStubRuntime(
		stubBehavior{exit: 0},
		stubBehavior{stay: true, readyURL: "http://127.0.0.1:4000"},
	)
	inst := New(Config{Runtime: rt})

	if _, err := inst.Run(context.Background(), validFiles()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := inst.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if inst.State() != StateIdle {
		t.Fatalf("state = %q, want idle", inst.State())
	}
	if got := rt.liveCount(); got != 0 {
		t.Fatalf("live processes = %d, want 0", got)
	}
}

func TestObserverReceivesInstallOutput(t *testing.T) {
	rt := newStubRuntime(
		stubBehavior{lines: []string{"added 12 packages"}, exit: 0},
		stubBehavior{stay: true, readyURL: "http://127.0.0.1:4000"},
	)

	var mu sync.Mutex
	var seen []string
	observer := ObserverFunc(func(stage Stage, line string) {
		mu.Lock()
		seen = append(seen, string(stage)+": "+line)
		mu.Unlock()
	})
	inst := New(Config{Runtime: rt, Observer: observer})

	if _, err := inst.Run(context.Background(), validFiles()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, s := range seen {
		if s == "install: added 12 packages" {
			found = true
		}
	}
	if !found {
		t.Fatalf("install output not observed: %v", seen)
	}
}

func TestCustomCommands(t *testing.T) {
	rt := newStubRuntime(
		stubBehavior{exit: 0},
		stubBehavior{stay: true, readyURL: "http://127.0.0.1:4000"},
	)
	inst := New(Config{
		Runtime:        rt,
		InstallCommand: []string{"yarn", "install"},
		StartCommand:   []string{"yarn", "dev"},
	})

	if _, err := inst.Run(context.Background(), validFiles()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rt.eventIndex("spawn yarn install#1") == -1 || rt.eventIndex("spawn yarn dev#2") == -1 {
		t.Fatalf("custom commands not used: %v", rt.events)
	}
}
