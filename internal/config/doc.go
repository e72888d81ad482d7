// Package config loads, validates, and coerces vak configuration files.
//
// A config file is TOML with one upper-case table per section (PREP, TRAIN,
// EVAL, PREDICT, LEARNCURVE, SPECT_PARAMS, DATALOADER, RUNNER) plus free-form
// tables for each model named in a `models` option. Valid sections and
// options live in an embedded registry (valid.toml) that drives both
// validation and value coercion, so a labelset written as "iabc" and one
// written as ["i", "a", "b", "c"] decode to the same value.
//
// Always obtain settings through Load so downstream code receives expanded
// paths, defaults, and clear validation errors.
package config
