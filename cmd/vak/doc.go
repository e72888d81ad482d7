// Package main hosts the vak CLI entrypoint and command graph.
//
// The Cobra-based command tree maps each pipeline command (prep, train, eval,
// predict, learncurve) onto one config file and the engine, and adds
// configuration scaffolding plus inspection of the run store kept in every
// results root. It centralizes config loading, logger construction, and
// terminal detection so subcommands only render results.
//
// Keep this package lean: new behavior belongs in internal/engine or the
// packages beneath it, surfaced here through a command or flag.
package main
