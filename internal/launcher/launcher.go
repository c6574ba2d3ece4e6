package launcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/testserve/internal/env"
	"github.com/loykin/testserve/internal/plan"
)

// Launcher spawns the server process described by a plan. It is a strategy so
// alternative process hosts (containers, in-proc harnesses) can be swapped in
// without touching the manager.
type Launcher interface {
	Start(ctx context.Context, p plan.Plan) (*Handle, error)
}

// Handle is the manager's view of a spawned server process.
type Handle struct {
	Pid       int
	StartedAt time.Time

	mu      sync.Mutex
	cmd     *exec.Cmd
	exitErr error
	exited  bool
	done    chan struct{}
	closers []io.WriteCloser
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the process has exited.
func (h *Handle) Exited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

// ExitErr returns the error from Wait, if any, once Exited is true.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

func (h *Handle) markExited(err error) {
	h.mu.Lock()
	h.exited = true
	h.exitErr = err
	closers := h.closers
	h.closers = nil
	h.mu.Unlock()
	for _, c := range closers {
		_ = c.Close()
	}
	close(h.done)
}

// ExecLauncher starts the server as a plain OS process via os/exec, in its
// own process group so the whole tree can be signaled on teardown.
type ExecLauncher struct {
	Logger *slog.Logger
	Env    *env.Env
}

func NewExecLauncher(logger *slog.Logger) *ExecLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecLauncher{Logger: logger, Env: env.New()}
}

func (l *ExecLauncher) Start(_ context.Context, p plan.Plan) (*Handle, error) {
	if p.Executable == "" {
		return nil, fmt.Errorf("launch plan has no executable")
	}
	// The server must outlive any single caller context, so the command is
	// deliberately not bound to ctx.
	// #nosec G204
	cmd := exec.Command(p.Executable, p.Args...)
	if p.WorkDir != "" {
		cmd.Dir = p.WorkDir
	}
	envM := l.Env
	if envM == nil {
		envM = env.New()
	}
	cmd.Env = envM.Merge(p.Env)
	configureSysProcAttr(cmd)

	h := &Handle{done: make(chan struct{})}
	if err := l.wireOutput(cmd, h, p); err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", p.Executable, err)
	}
	h.cmd = cmd
	h.Pid = cmd.Process.Pid
	h.StartedAt = time.Now().UTC()

	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("server process started", "name", p.Name, "pid", h.Pid, "executable", p.Executable)

	// Single waiter reaps the child and closes writers.
	go func() {
		err := cmd.Wait()
		h.markExited(err)
	}()
	return h, nil
}

// wireOutput connects the child's stdout/stderr: discarded by default,
// streamed per the plan either to rotating files (when a log destination is
// configured) or line-by-line through the logger.
func (l *ExecLauncher) wireOutput(cmd *exec.Cmd, h *Handle, p plan.Plan) error {
	if !p.StreamOutput {
		null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return err
		}
		cmd.Stdout = null
		cmd.Stderr = null
		h.closers = append(h.closers, null)
		return nil
	}
	if p.Log.Configured() {
		if p.Log.Dir != "" {
			if err := os.MkdirAll(p.Log.Dir, 0o750); err != nil {
				return err
			}
		}
		name := p.Name
		if name == "" {
			name = "server"
		}
		outW, errW, err := p.Log.Writers(name)
		if err != nil {
			return err
		}
		if outW != nil {
			cmd.Stdout = outW
			h.closers = append(h.closers, outW)
		}
		if errW != nil {
			cmd.Stderr = errW
			h.closers = append(h.closers, errW)
		}
		return nil
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cmd.Stdout = &slogWriter{logger: logger, level: slog.LevelInfo, name: p.Name, stream: "stdout"}
	cmd.Stderr = &slogWriter{logger: logger, level: slog.LevelWarn, name: p.Name, stream: "stderr"}
	return nil
}
