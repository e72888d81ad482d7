// Package labels converts between annotated segments and the per-time-bin
// classes a segmenting network is trained on and predicts.
package labels
