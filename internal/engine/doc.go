// Package engine runs the vak commands.
//
// Prep turns a directory of audio or spectrogram files into a dataset CSV
// and records its path in the config. Train, Eval, Predict and Learncurve
// each create a timestamped results directory, write the labelmap, scaler
// and window files the framework process needs, hand a job to the runner
// and persist what comes back: metrics CSVs, checkpoints, annotation CSVs
// and learning-curve summaries. Every invocation is recorded in the run
// store of the directory it writes to.
package engine
