// Package runner hands training, evaluation and prediction to the external
// deep-learning framework process.
//
// A job is written as JSON next to the run's results and the configured
// command is started as `command args... <train|eval|predict> --job <file>`.
// The process reports back with one JSON event per stdout line; see Event.
// Lines that are not JSON are logged at debug level. A non-zero exit status
// or an error event fails the job, carrying the tail of stderr.
package runner
