// Package preflight provides readiness checks for the filesystem paths and
// external executables a vak command depends on.
//
// The engine calls RunAll before starting a command so a missing runner or
// an unwritable results root fails in seconds rather than after prep or
// training work has been done. Checks only cover what the command uses.
package preflight
