package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ControlPlaceholder in launcher arguments is replaced with the control
// file path relative to the scenario directory.
const ControlPlaceholder = "{control}"

// Invocation is one request to run the simulator.
type Invocation struct {
	ScenarioID string
	Dir        string // execution root
	Control    string // control file, relative to Dir
	Stdout     io.Writer
	Stderr     io.Writer
}

// Launcher starts the external simulator and blocks until it exits. A
// non-zero exit is reported as *ExitError; a context error is returned when
// ctx ends first.
type Launcher interface {
	Launch(ctx context.Context, inv Invocation) error
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, inv Invocation) error

func (f LauncherFunc) Launch(ctx context.Context, inv Invocation) error { return f(ctx, inv) }

// ExitError reports a non-zero exit status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// ExecLauncher runs an executable as a subprocess.
type ExecLauncher struct {
	Path string
	Args []string // ControlPlaceholder is substituted
	Env  []string // appended to the current environment
	// KillGrace is how long to wait after SIGTERM before SIGKILL.
	KillGrace time.Duration
}

// Launch runs the executable in inv.Dir with output wired to inv's writers.
func (l *ExecLauncher) Launch(ctx context.Context, inv Invocation) error {
	args := make([]string, len(l.Args))
	for i, a := range l.Args {
		args[i] = strings.ReplaceAll(a, ControlPlaceholder, inv.Control)
	}
	if len(l.Args) == 0 {
		args = []string{inv.Control}
	}

	cmd := exec.CommandContext(ctx, l.Path, args...)
	cmd.Dir = inv.Dir
	cmd.Stdout = inv.Stdout
	cmd.Stderr = inv.Stderr
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	grace := l.KillGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	cmd.WaitDelay = grace

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", l.Path, err)
	}
	err := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Code: ee.ExitCode()}
	}
	return err
}
