// Package app assembles the swap pipeline and the asynchronous job runtime
// from a loaded configuration. Both the daemon and the CLI build on it.
package app
