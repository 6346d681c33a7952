package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// errOutputLimit aborts a subprocess whose combined output exceeds the cap.
var errOutputLimit = errors.New("command output limit exceeded")

// BuildCommandError reports a failed install/build subprocess together
// with its captured combined output.
type BuildCommandError struct {
	Command  string
	Output   string
	TimedOut bool
	Err      error
}

func (e *BuildCommandError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("command %q timed out\n%s", e.Command, e.Output)
	}
	return fmt.Sprintf("command %q failed: %v\n%s", e.Command, e.Err, e.Output)
}

func (e *BuildCommandError) Unwrap() error { return e.Err }

// Runner executes bounded subprocesses and tracks at most one live
// process per run id so a cancellation request can find and kill it.
type Runner struct {
	mu        sync.Mutex
	procs     map[string]*exec.Cmd
	maxOutput int
}

// NewRunner creates a Runner capping combined output at maxOutput bytes.
func NewRunner(maxOutput int) *Runner {
	if maxOutput <= 0 {
		maxOutput = 2 << 20
	}
	return &Runner{
		procs:     make(map[string]*exec.Cmd),
		maxOutput: maxOutput,
	}
}

// Run executes command in dir with the given extra environment, bounded
// by timeout and the output cap. The process runs in its own process
// group so a kill reaches npm's children too.
func (r *Runner) Run(ctx context.Context, runID, dir, command string, extraEnv []string, timeout time.Duration) (string, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return "", fmt.Errorf("empty command")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	buf := &cappedBuffer{max: r.maxOutput}
	cmd.Stdout = buf
	cmd.Stderr = buf

	if err := cmd.Start(); err != nil {
		return "", &BuildCommandError{Command: command, Err: err}
	}
	r.track(runID, cmd)
	defer r.untrack(runID, cmd)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if buf.exceeded {
			killGroup(cmd)
			return buf.String(), &BuildCommandError{Command: command, Output: buf.String(), Err: errOutputLimit}
		}
		if err != nil {
			return buf.String(), &BuildCommandError{Command: command, Output: buf.String(), Err: err}
		}
		return buf.String(), nil
	case <-runCtx.Done():
		killGroup(cmd)
		<-done
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return buf.String(), &BuildCommandError{Command: command, Output: buf.String(), TimedOut: true, Err: runCtx.Err()}
		}
		return buf.String(), runCtx.Err()
	}
}

// Kill terminates the live subprocess tracked for runID, if any, and
// removes the table entry. Returns whether a process was found.
func (r *Runner) Kill(runID string) bool {
	r.mu.Lock()
	cmd, ok := r.procs[runID]
	if ok {
		delete(r.procs, runID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	killGroup(cmd)
	return true
}

// track records the run's current subprocess, overwriting any previous
// entry as stages progress.
func (r *Runner) track(runID string, cmd *exec.Cmd) {
	r.mu.Lock()
	r.procs[runID] = cmd
	r.mu.Unlock()
}

func (r *Runner) untrack(runID string, cmd *exec.Cmd) {
	r.mu.Lock()
	if r.procs[runID] == cmd {
		delete(r.procs, runID)
	}
	r.mu.Unlock()
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative pid signals the whole process group.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// cappedBuffer accumulates output up to max bytes, then flags overflow
// and rejects further writes so the producer terminates.
type cappedBuffer struct {
	mu       sync.Mutex
	buf      strings.Builder
	max      int
	exceeded bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exceeded {
		return 0, errOutputLimit
	}
	remaining := b.max - b.buf.Len()
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.exceeded = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
