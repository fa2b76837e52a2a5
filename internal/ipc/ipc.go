// Package ipc is the message channel between a watch supervisor and the
// child process it spawns. Messages are JSON lines written by the child to
// an inherited pipe.
package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"kickstart/pkg/logging"
)

// Version is the protocol version written into every message.
const Version = 1

const (
	// EnvFD names the descriptor the child writes messages to.
	EnvFD = "KICKSTART_IPC_FD"
	// EnvInstance carries the ID the supervisor assigned to the child.
	EnvInstance = "KICKSTART_INSTANCE_ID"

	// ChildFD is the descriptor number of the first entry in exec.Cmd.ExtraFiles.
	ChildFD = 3
)

// Event is the kind of a message.
type Event string

const (
	EventStart Event = "start"
	EventReady Event = "ready"
	EventExit  Event = "exit"
)

// Message is one line on the channel.
type Message struct {
	V        int    `json:"v"`
	Event    Event  `json:"event"`
	Instance string `json:"instance,omitempty"`
	Address  string `json:"address,omitempty"`
	Code     int    `json:"code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Notifier sends messages from the child. A Notifier without a writer
// silently drops messages, so callers need not check whether they run
// supervised.
type Notifier struct {
	mu       sync.Mutex
	w        io.WriteCloser
	instance string
}

// NewNotifier writes messages tagged with instance to w.
func NewNotifier(w io.WriteCloser, instance string) *Notifier {
	return &Notifier{w: w, instance: instance}
}

// NotifierFromEnv opens the descriptor named by EnvFD. Without it the
// returned Notifier is disabled.
func NotifierFromEnv() *Notifier {
	raw := os.Getenv(EnvFD)
	if raw == "" {
		return &Notifier{}
	}
	fd, err := strconv.Atoi(raw)
	if err != nil || fd < 0 {
		logging.Warn("IPC", "Ignoring invalid %s=%q", EnvFD, raw)
		return &Notifier{}
	}
	return NewNotifier(os.NewFile(uintptr(fd), "kickstart-ipc"), os.Getenv(EnvInstance))
}

// Enabled reports whether messages go anywhere.
func (n *Notifier) Enabled() bool {
	return n != nil && n.w != nil
}

// Send writes msg as one JSON line.
func (n *Notifier) Send(msg Message) error {
	if !n.Enabled() {
		return nil
	}
	msg.V = Version
	if msg.Instance == "" {
		msg.Instance = n.instance
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Event, err)
	}
	data = append(data, '\n')

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.w.Write(data); err != nil {
		return fmt.Errorf("failed to send %s message: %w", msg.Event, err)
	}
	return nil
}

// Start reports that the server is listening at address.
func (n *Notifier) Start(address string) error {
	return n.Send(Message{Event: EventStart, Address: address})
}

// Ready reports that the onReady hooks completed.
func (n *Notifier) Ready(address string) error {
	return n.Send(Message{Event: EventReady, Address: address})
}

// Exit reports that the child is about to exit with code.
func (n *Notifier) Exit(code int, cause error) error {
	msg := Message{Event: EventExit, Code: code}
	if cause != nil {
		msg.Error = cause.Error()
	}
	return n.Send(msg)
}

// Close closes the underlying writer.
func (n *Notifier) Close() error {
	if !n.Enabled() {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.w.Close()
}

// Listen decodes messages from r until EOF and closes r. Lines that are
// not messages of a known version are logged and skipped.
func Listen(r io.ReadCloser) <-chan Message {
	out := make(chan Message, 8)
	go func() {
		defer close(out)
		defer r.Close()

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			var msg Message
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				logging.Warn("IPC", "Ignoring malformed message %q", scanner.Text())
				continue
			}
			if msg.V != Version {
				logging.Warn("IPC", "Ignoring %s message with protocol version %d", msg.Event, msg.V)
				continue
			}
			out <- msg
		}
		if err := scanner.Err(); err != nil {
			logging.Debug("IPC", "Channel closed: %v", err)
		}
	}()
	return out
}

// Pipe returns the supervisor's read end and the child's write end of a
// new channel.
func Pipe() (parent *os.File, child *os.File, err error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create ipc pipe: %w", err)
	}
	return r, w, nil
}
