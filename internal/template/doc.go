// Package template renders the plugin project scaffold written by
// `kickstart generate`. Templates use text/template syntax with the sprig
// function library.
package template
