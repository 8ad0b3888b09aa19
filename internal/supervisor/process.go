package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"
)

// ServiceSpec describes one child service.
type ServiceSpec struct {
	Name         string
	Command      string
	Args         []string
	Dir          string
	Env          map[string]string
	HealthURL    string // Empty means liveness is the process itself
	Critical     bool   // Only critical services are restarted
	StartupDelay time.Duration
}

// Process is a running child.
type Process interface {
	Pid() int
	Signal(sig os.Signal) error
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// ExitErr returns the exit error after Done is closed.
	ExitErr() error
}

// Launcher starts processes for service specs.
type Launcher interface {
	Launch(ctx context.Context, spec ServiceSpec) (Process, error)
}

// ExecLauncher starts services with os/exec and appends their stdout and
// stderr to <LogDir>/<name>.log. An empty LogDir discards output.
type ExecLauncher struct {
	LogDir string
	Logger *slog.Logger
}

// Launch starts spec.Command. The process is not bound to ctx; it is
// stopped through the returned Process.
func (l *ExecLauncher) Launch(ctx context.Context, spec ServiceSpec) (Process, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)

	var logFile *os.File
	if l.LogDir != "" {
		if err := os.MkdirAll(l.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(l.LogDir, spec.Name+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open service log: %w", err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
		close(p.done)
	}()

	if l.Logger != nil {
		l.Logger.Debug("process started", "service", spec.Name, "pid", cmd.Process.Pid)
	}
	return p, nil
}

// mergeEnv overlays extra onto base, in sorted key order.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := append([]string(nil), base...)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) Pid() int                   { return p.cmd.Process.Pid }
func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *execProcess) Kill() error                { return p.cmd.Process.Kill() }
func (p *execProcess) Done() <-chan struct{}      { return p.done }

func (p *execProcess) ExitErr() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// exited reports whether p has finished without blocking.
func exited(p Process) bool {
	if p == nil {
		return true
	}
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}
