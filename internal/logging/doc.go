// Package logging assembles the structured slog loggers used by the vak CLI.
//
// It owns the console and JSON handlers, level parsing, and the per-run log
// file that is written next to a run's results. Context helpers tag log lines
// with run IDs, commands, and model names so a single results directory can
// be traced back to the invocation that produced it.
//
// Prefer these constructors over hand-rolled slog setup so every command emits
// records with the same shape.
package logging
