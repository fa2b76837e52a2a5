package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"kickstart/internal/ipc"
	"kickstart/pkg/logging"
)

// DefaultGrace is how long a child may take to exit after being asked to
// before it is killed.
const DefaultGrace = 10 * time.Second

// ProcessSpawner runs children as separate OS processes connected through
// an ipc channel.
type ProcessSpawner struct {
	Path string
	Args []string
	// Env is appended to the current environment.
	Env []string
	Dir string
	// Grace bounds the time between the termination signal and the kill.
	Grace time.Duration

	Stdout io.Writer
	Stderr io.Writer
}

// Spawn starts a new child process.
func (s *ProcessSpawner) Spawn(ctx context.Context) (Child, error) {
	parentEnd, childEnd, err := ipc.Pipe()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	cmd := exec.Command(s.Path, s.Args...)
	cmd.Dir = s.Dir
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("%s=%d", ipc.EnvFD, ipc.ChildFD),
		fmt.Sprintf("%s=%s", ipc.EnvInstance, id),
	)
	if err := configureProcAttr(cmd, childEnd); err != nil {
		_ = parentEnd.Close()
		_ = childEnd.Close()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		_ = parentEnd.Close()
		_ = childEnd.Close()
		return nil, err
	}
	// Only the child writes; keeping our copy open would hide its exit.
	_ = childEnd.Close()

	grace := s.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	p := &process{
		id:       id,
		cmd:      cmd,
		grace:    grace,
		messages: ipc.Listen(parentEnd),
		exited:   make(chan struct{}),
	}
	go p.wait()

	logging.Debug("Watch", "Spawned child %s (pid %d)", id, cmd.Process.Pid)
	return p, nil
}

// process implements Child for an OS process.
type process struct {
	id       string
	cmd      *exec.Cmd
	grace    time.Duration
	messages <-chan ipc.Message

	exited chan struct{}
	err    error

	stopOnce sync.Once
	stopErr  error
}

func (p *process) ID() string                   { return p.id }
func (p *process) Messages() <-chan ipc.Message { return p.messages }
func (p *process) Exited() <-chan struct{}      { return p.exited }

func (p *process) Err() error {
	select {
	case <-p.exited:
		return p.err
	default:
		return nil
	}
}

func (p *process) wait() {
	p.err = p.cmd.Wait()
	close(p.exited)
}

// Stop asks the child's process group to terminate and kills it when the
// grace period or ctx runs out. It returns once the child has exited.
func (p *process) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() { p.stopErr = p.stop(ctx) })
	return p.stopErr
}

func (p *process) stop(ctx context.Context) error {
	pid := p.cmd.Process.Pid

	select {
	case <-p.exited:
		// Leftover grandchildren still go.
		_ = killGroup(pid)
		return nil
	default:
	}

	if err := terminateGroup(pid); err != nil {
		logging.Debug("Watch", "Failed to terminate child %s: %v", p.id, err)
	}

	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	select {
	case <-p.exited:
		_ = killGroup(pid)
		return nil
	case <-timer.C:
		logging.Warn("Watch", "Child %s did not exit within %s, killing it", p.id, p.grace)
	case <-ctx.Done():
		logging.Warn("Watch", "Killing child %s: %v", p.id, ctx.Err())
	}

	if err := killGroup(pid); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill child %s: %w", p.id, err)
	}
	<-p.exited
	return nil
}
