// Package transforms holds the spectrogram transforms applied before windows
// are handed to the network: per-frequency standardization and padding or
// reshaping into fixed-width windows.
//
// Spectrograms are gonum matrices with one row per frequency bin and one
// column per time bin.
package transforms
