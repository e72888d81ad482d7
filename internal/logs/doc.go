// Package logs reads the vak.log files runs leave in their results
// directories.
//
// It returns the last lines of a log with bounded memory and follows a log
// as a running command appends to it, which powers `vak runs log`. Callers
// cancel the context to stop following.
package logs
