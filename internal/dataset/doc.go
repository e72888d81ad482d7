// Package dataset models the table of clips a vak run works on.
//
// Each Clip is one audio or spectrogram file plus its annotation and
// duration. A Dataset is persisted as CSV (via gota dataframes) so the prep
// step and the train/eval/predict steps can run as separate invocations. The
// package also reads the file formats needed to compute durations and labels:
// WAV and cbin headers, .mat and .npz spectrogram files, and the built-in
// csv annotation format.
package dataset
