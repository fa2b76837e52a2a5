package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kickstart/internal/ipc"
	"kickstart/pkg/logging"
)

// Child is a running child process.
type Child interface {
	ID() string
	// Messages delivers the child's IPC messages and is closed when the
	// channel closes.
	Messages() <-chan ipc.Message
	// Exited is closed once the process has exited.
	Exited() <-chan struct{}
	// Err is the exit error, valid after Exited is closed.
	Err() error
	// Stop terminates the child and waits for it to exit.
	Stop(ctx context.Context) error
}

// Spawner starts children.
type Spawner interface {
	Spawn(ctx context.Context) (Child, error)
}

// ChangeSource delivers file changes.
type ChangeSource interface {
	Start(ctx context.Context, changes chan<- Change) error
	Stop() error
}

// DefaultStopTimeout bounds how long terminating a child may take.
const DefaultStopTimeout = 30 * time.Second

// Supervisor runs one child at a time and replaces it whenever a change is
// detected. The previous child is always gone before the next one starts.
type Supervisor struct {
	spawner Spawner
	source  ChangeSource

	mu       sync.Mutex
	state    State
	handlers []Handler

	closeCh   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	started   bool
}

// New creates a supervisor. Nothing runs until Run is called.
func New(spawner Spawner, source ChangeSource) *Supervisor {
	return &Supervisor{
		spawner: spawner,
		source:  source,
		state:   Idle,
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// OnEvent adds a lifecycle event handler. Add handlers before calling Run.
func (s *Supervisor) OnEvent(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	if prev != state {
		logging.Debug("Watch", "Supervisor %s -> %s", prev, state)
	}
}

func (s *Supervisor) emit(e Event) {
	e.Time = time.Now()
	s.mu.Lock()
	handlers := append([]Handler(nil), s.handlers...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(e)
	}
}

// Run starts the first child and supervises until ctx is done or Close is
// called, then stops the child and emits close. It returns an error only
// if watching or spawning fails.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("supervisor already started")
	}
	s.started = true
	s.mu.Unlock()
	defer close(s.done)

	changes := make(chan Change, 16)
	if err := s.source.Start(ctx, changes); err != nil {
		s.finish(nil)
		return fmt.Errorf("failed to watch for changes: %w", err)
	}
	defer func() { _ = s.source.Stop() }()

	child, err := s.spawn(ctx)
	if err != nil {
		s.finish(nil)
		return err
	}

	for {
		var (
			messages <-chan ipc.Message
			exited   <-chan struct{}
		)
		if child != nil {
			messages = child.Messages()
			exited = child.Exited()
		}

		select {
		case <-ctx.Done():
			s.finish(child)
			return nil

		case <-s.closeCh:
			s.finish(child)
			return nil

		case msg, ok := <-messages:
			if !ok {
				// The pipe closed; wait for the exit itself.
				child = waitOnly(child)
				continue
			}
			s.handleMessage(child, msg)

		case <-exited:
			s.childExited(child)
			child = nil

		case change := <-changes:
			child, err = s.restart(ctx, child, change, changes)
			if err != nil {
				s.finish(nil)
				return err
			}
		}
	}
}

func (s *Supervisor) handleMessage(child Child, msg ipc.Message) {
	switch msg.Event {
	case ipc.EventStart:
		s.emit(Event{Type: EventStart, Instance: child.ID(), Address: msg.Address})
	case ipc.EventReady:
		s.setState(Running)
		s.emit(Event{Type: EventReady, Instance: child.ID(), Address: msg.Address})
	case ipc.EventExit:
		if msg.Error != "" {
			logging.Warn("Watch", "Child %s is exiting with code %d: %s", child.ID(), msg.Code, msg.Error)
		} else {
			logging.Debug("Watch", "Child %s is exiting with code %d", child.ID(), msg.Code)
		}
	default:
		logging.Debug("Watch", "Ignoring %q message from child %s", msg.Event, child.ID())
	}
}

// childExited handles a child that exited without being asked to. The
// supervisor waits idle for the next change.
func (s *Supervisor) childExited(child Child) {
	if err := child.Err(); err != nil {
		logging.Error("Watch", err, "Child %s exited; waiting for changes", child.ID())
	} else {
		logging.Info("Watch", "Child %s exited; waiting for changes", child.ID())
	}
	s.setState(Idle)
}

// restart replaces child after change. Changes arriving while the old
// child stops and the new one is spawned are folded into this restart.
func (s *Supervisor) restart(ctx context.Context, child Child, change Change, changes <-chan Change) (Child, error) {
	s.setState(Restarting)
	instance := ""
	if child != nil {
		instance = child.ID()
	}
	logging.Info("Watch", "Restarting after changes to %v", change.Paths)
	s.emit(Event{Type: EventRestart, Instance: instance, Paths: change.Paths})

	s.stopChild(child)
	coalesced := drain(changes)
	if coalesced > 0 {
		logging.Debug("Watch", "Coalesced %d further change batches into this restart", coalesced)
	}
	return s.spawn(ctx)
}

func (s *Supervisor) spawn(ctx context.Context) (Child, error) {
	s.setState(Starting)
	child, err := s.spawner.Spawn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start child: %w", err)
	}
	logging.Debug("Watch", "Started child %s", child.ID())
	return child, nil
}

func (s *Supervisor) stopChild(child Child) {
	if child == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultStopTimeout)
	defer cancel()
	if err := child.Stop(ctx); err != nil {
		logging.Warn("Watch", "Failed to stop child %s: %v", child.ID(), err)
	}
}

// finish stops child, enters Stopped and emits close.
func (s *Supervisor) finish(child Child) {
	s.stopChild(child)
	s.setState(Stopped)
	s.emit(Event{Type: EventClose})
}

// Close stops the supervisor and waits until the close event was emitted
// or ctx is done. It is safe to call more than once, and before Run.
func (s *Supervisor) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closeCh) })

	s.mu.Lock()
	started := s.started
	s.started = true
	s.mu.Unlock()
	if !started {
		s.finish(nil)
		close(s.done)
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the supervisor has stopped.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func drain(changes <-chan Change) int {
	n := 0
	for {
		select {
		case <-changes:
			n++
		default:
			return n
		}
	}
}

// exitOnlyChild hides the closed message channel of a child.
type exitOnlyChild struct {
	Child
}

func (exitOnlyChild) Messages() <-chan ipc.Message { return nil }

func waitOnly(child Child) Child {
	if child == nil {
		return nil
	}
	if _, ok := child.(exitOnlyChild); ok {
		return child
	}
	return exitOnlyChild{child}
}
