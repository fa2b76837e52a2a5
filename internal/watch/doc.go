// Package watch implements watch mode: a Supervisor runs the server in a
// child process, listens to the lifecycle messages the child sends over an
// inherited pipe, and replaces the child whenever the Detector reports
// changed files.
//
// Restarts never overlap. The current child is terminated (and killed if it
// does not exit within its grace period) before the next one is spawned,
// and changes detected meanwhile are folded into the same restart.
//
// Watch mode relies on descriptor inheritance and process groups and is not
// available on Windows.
package watch
