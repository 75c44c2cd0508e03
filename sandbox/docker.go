package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// DockerOptions configures a Docker-backed sandbox runtime.
type DockerOptions struct {
	Name  string // container name, e.g. "devroom-sbx-<project>"
	Image string // defaults to node:20-alpine
	Port  string // container port the dev server binds, defaults to 3000
}

// DockerRuntime runs sandbox processes inside a long-lived container via
// the docker CLI. The container is created lazily on first Mount with the
// dev-server port published on an ephemeral localhost port.
type DockerRuntime struct {
	name  string
	image string
	port  string

	mu      sync.Mutex
	created bool
	seq     int
	ready   chan string
}

// NewDockerRuntime creates a runtime driving the named container.
func NewDockerRuntime(opts DockerOptions) *DockerRuntime {
	if opts.Image == "" {
		opts.Image = "node:20-alpine"
	}
	if opts.Port == "" {
		opts.Port = "3000"
	}
	return &DockerRuntime{
		name:  opts.Name,
		image: opts.Image,
		port:  opts.Port,
		ready: make(chan string, 1),
	}
}

// Ready delivers the preview URL once server output is observed.
func (d *DockerRuntime) Ready() <-chan string { return d.ready }

// Mount replaces /app in the container with the given files.
func (d *DockerRuntime) Mount(ctx context.Context, files map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureContainer(ctx); err != nil {
		return err
	}

	reset := exec.CommandContext(ctx, "docker", "exec", d.name, "sh", "-c", "rm -rf /app && mkdir -p /app")
	if output, err := reset.CombinedOutput(); err != nil {
		return fmt.Errorf("resetting /app: %w\noutput: %s", err, string(output))
	}

	dir, err := os.MkdirTemp("", "devroom-mount-")
	if err != nil {
		return fmt.Errorf("staging mount: %w", err)
	}
	defer os.RemoveAll(dir)

	for path, contents := range files {
		dst := filepath.Join(dir, filepath.FromSlash(path))
		if !strings.HasPrefix(dst, dir+string(os.PathSeparator)) {
			return fmt.Errorf("mount path escapes root: %q", path)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("staging %q: %w", path, err)
		}
		if err := os.WriteFile(dst, []byte(contents), 0o644); err != nil {
			return fmt.Errorf("staging %q: %w", path, err)
		}
	}

	cp := exec.CommandContext(ctx, "docker", "cp", dir+"/.", d.name+":/app")
	if output, err := cp.CombinedOutput(); err != nil {
		return fmt.Errorf("copying files into container: %w\noutput: %s", err, string(output))
	}
	return nil
}

// Spawn runs a command in /app. The remote process's PID is recorded in a
// per-spawn pidfile so Kill can reach it from a separate exec.
func (d *DockerRuntime) Spawn(ctx context.Context, command string, args ...string) (Process, error) {
	d.mu.Lock()
	d.seq++
	pidfile := fmt.Sprintf("/tmp/devroom-%d.pid", d.seq)
	d.mu.Unlock()

	parts := append([]string{command}, args...)
	for i, p := range parts {
		if strings.ContainsAny(p, " \t'\"$") {
			parts[i] = fmt.Sprintf("%q", p)
		}
	}
	script := fmt.Sprintf("echo $$ > %s; exec %s", pidfile, strings.Join(parts, " "))

	cmd := exec.CommandContext(ctx, "docker", "exec", "-w", "/app", d.name, "sh", "-c", script)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", command, err)
	}

	scanner := bufio.NewScanner(io.MultiReader(stdout, stderr))
	scanner.Buffer(make([]byte, 0, 256*1024), 256*1024)

	return &dockerProcess{
		runtime: d,
		cmd:     cmd,
		pidfile: pidfile,
		output:  &sniffScanner{scanner: scanner, runtime: d},
	}, nil
}

// Close removes the container.
func (d *DockerRuntime) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.created {
		return nil
	}
	d.created = false
	cmd := exec.CommandContext(ctx, "docker", "rm", "-f", d.name)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("removing container: %w\noutput: %s", err, string(output))
	}
	return nil
}

// ensureContainer creates the container if needed. Caller holds d.mu.
func (d *DockerRuntime) ensureContainer(ctx context.Context) error {
	if d.created {
		return nil
	}
	// Remove any leftover container from a previous run.
	_ = exec.CommandContext(ctx, "docker", "rm", "-f", d.name).Run()

	cmd := exec.CommandContext(ctx, "docker", "run", "-d",
		"--name", d.name,
		"--label", "devroom.sandbox="+d.name,
		"-p", "127.0.0.1::"+d.port,
		d.image, "sleep", "infinity")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("creating container: %w\noutput: %s", err, string(output))
	}
	d.created = true
	return nil
}

// hostURL resolves the published localhost address for the dev-server port.
func (d *DockerRuntime) hostURL(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", "port", d.name, d.port+"/tcp")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("resolving published port: %w\noutput: %s", err, string(output))
	}
	addr := strings.TrimSpace(strings.SplitN(string(output), "\n", 2)[0])
	if addr == "" {
		return "", fmt.Errorf("port %s not published", d.port)
	}
	return "http://" + addr, nil
}

// announceReady publishes the preview URL once per started server.
func (d *DockerRuntime) announceReady() {
	url, err := d.hostURL(context.Background())
	if err != nil {
		return
	}
	select {
	case d.ready <- url:
	default:
	}
}

// dockerProcess is one command running inside the container.
type dockerProcess struct {
	runtime *DockerRuntime
	cmd     *exec.Cmd
	pidfile string
	output  *sniffScanner

	waitOnce sync.Once
	exitCode int
	waitErr  error
}

func (p *dockerProcess) Output() LineScanner { return p.output }

// Wait blocks until the exec client exits. Safe to call more than once.
func (p *dockerProcess) Wait(ctx context.Context) (int, error) {
	done := make(chan struct{})
	go func() {
		p.waitOnce.Do(func() {
			err := p.cmd.Wait()
			p.exitCode = p.cmd.ProcessState.ExitCode()
			if err != nil && p.exitCode < 0 {
				p.waitErr = fmt.Errorf("waiting for process: %w", err)
			}
		})
		close(done)
	}()
	select {
	case <-done:
		return p.exitCode, p.waitErr
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Kill signals the remote process recorded in the pidfile.
func (p *dockerProcess) Kill(ctx context.Context) error {
	script := fmt.Sprintf("kill -TERM $(cat %s) 2>/dev/null || true", p.pidfile)
	cmd := exec.CommandContext(ctx, "docker", "exec", p.runtime.name, "sh", "-c", script)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("killing process: %w\noutput: %s", err, string(output))
	}
	return nil
}

var serverAddrRe = regexp.MustCompile(`(?i)(?:https?://)?(?:localhost|127\.0\.0\.1|0\.0\.0\.0):\d{2,5}`)

// sniffScanner passes lines through while watching for a server address,
// which signals that the dev server is up.
type sniffScanner struct {
	scanner *bufio.Scanner
	runtime *DockerRuntime
}

func (s *sniffScanner) Scan() bool {
	if !s.scanner.Scan() {
		return false
	}
	if serverAddrRe.MatchString(s.scanner.Text()) {
		s.runtime.announceReady()
	}
	return true
}

func (s *sniffScanner) Text() string { return s.scanner.Text() }
func (s *sniffScanner) Err() error   { return s.scanner.Err() }
func (s *sniffScanner) Close() error { return nil }
