// Package app boots a kickstart plugin server and runs it until shutdown.
//
// Boot performs one boot sequence: it initializes logging, optionally
// starts the debug listener, loads the plugin, registers it within the
// plugin timeout, binds the server and runs the onListen and onReady hooks.
// A failure at any step tears down what was started and returns an error
// whose failure kind decides the exit code. A missing plugin file is the
// one non-fatal outcome.
//
// Application wraps Boot with signal handling, and in watch mode runs the
// server in supervised child processes instead (see package watch).
//
// The bind address defaults to loopback, or to all interfaces when the
// process runs inside a container.
package app
