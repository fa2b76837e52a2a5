package app

import (
	"net"
	"strconv"

	"kickstart/internal/options"
)

const (
	loopbackAddress = "127.0.0.1"
	wildcardAddress = "0.0.0.0"
)

// DefaultAddress is the bind host used when none is configured. Inside a
// container loopback is unreachable from the outside, so every interface
// is used instead.
func DefaultAddress(inContainer bool) string {
	if inContainer {
		return wildcardAddress
	}
	return loopbackAddress
}

// ListenTarget returns the network and address the server binds. A socket
// path, when set, is the only target and the port is ignored.
func ListenTarget(cfg options.Config, inContainer bool) (network, address string) {
	if cfg.UsesSocket() {
		return "unix", cfg.SocketPath
	}
	host := cfg.Address
	if host == "" {
		host = DefaultAddress(inContainer)
	}
	return "tcp", net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}

// DebugTarget returns the address of the debug listener.
func DebugTarget(cfg options.Config, inContainer bool) string {
	host := cfg.DebugHost
	if host == "" {
		host = cfg.Address
	}
	if host == "" {
		host = DefaultAddress(inContainer)
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.DebugPort))
}
