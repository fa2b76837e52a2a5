package app

import (
	"os"
	"strings"
)

// Files whose presence marks a container runtime.
var containerMarkers = []string{"/.dockerenv", "/run/.containerenv"}

const initCgroup = "/proc/1/cgroup"

// Container runtime names as they appear in cgroup paths.
var cgroupRuntimes = []string{"docker", "containerd", "kubepods", "libpod", "lxc"}

// InContainer reports whether the process runs inside a container.
func InContainer() bool {
	return detectContainer(containerMarkers, initCgroup)
}

func detectContainer(markers []string, cgroupFile string) bool {
	for _, m := range markers {
		if _, err := os.Stat(m); err == nil {
			return true
		}
	}
	data, err := os.ReadFile(cgroupFile)
	if err != nil {
		return false
	}
	cgroup := string(data)
	for _, runtime := range cgroupRuntimes {
		if strings.Contains(cgroup, runtime) {
			return true
		}
	}
	return false
}
