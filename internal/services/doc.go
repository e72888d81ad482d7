// Package services defines shared utilities consumed by the pipeline commands
// and the external framework runner.
//
// It provides context helpers that stamp run IDs, command names, and model
// names for logging, and structured error markers plus the Wrap helper so
// failures can be told apart (bad input versus a failing external process).
package services
