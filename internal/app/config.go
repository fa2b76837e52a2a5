package app

import (
	"io"
	"os"

	"kickstart/internal/ipc"
	"kickstart/internal/metrics"
)

// Deps are the collaborators of a boot that do not come from options.
type Deps struct {
	// Cwd resolves relative plugin paths.
	Cwd string
	// Version is exposed to plugins through require('kickstart').
	Version string
	// LogOutput receives the process logs.
	LogOutput io.Writer
	// SearchDirs overrides where installed plugin packages are looked up.
	SearchDirs []string

	Metrics  *metrics.Metrics
	Notifier *ipc.Notifier

	// InContainer decides the default bind address.
	InContainer func() bool
}

// NewDeps returns the collaborators of a real process: metrics, the IPC
// channel inherited from a supervisor (if any), and container detection.
func NewDeps(cwd, version string) Deps {
	return Deps{
		Cwd:         cwd,
		Version:     version,
		LogOutput:   os.Stdout,
		Metrics:     metrics.New(),
		Notifier:    ipc.NotifierFromEnv(),
		InContainer: InContainer,
	}
}

func (d Deps) withDefaults() Deps {
	if d.Cwd == "" {
		d.Cwd, _ = os.Getwd()
	}
	if d.LogOutput == nil {
		d.LogOutput = os.Stdout
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Notifier == nil {
		d.Notifier = &ipc.Notifier{}
	}
	if d.InContainer == nil {
		d.InContainer = InContainer
	}
	return d
}
