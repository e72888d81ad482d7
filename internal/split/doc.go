// Package split partitions a dataset into train, validation and test splits
// that reach target total durations while every split still contains every
// label of the labelset.
//
// Targets are seconds. A target of -1 means "whatever remains", zero means the
// split is not used. The search is randomized: clips are shuffled, then
// popped one at a time into a randomly chosen split that has not reached its
// target yet. Candidate partitions that leave a label out of some split are
// discarded and the search restarts, up to MaxIter attempts.
package split
