package logging

// ProgressSampler suppresses repetitive training progress logs while keeping
// one record per epoch and per percentage bucket within an epoch.
type ProgressSampler struct {
	bucketSize float64
	lastEpoch  int
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 25%) or when the epoch changes.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 25
	}
	return &ProgressSampler{bucketSize: bucketSize, lastEpoch: -1, lastBucket: -1}
}

// ShouldLog reports whether a progress event should be logged. Percent is the
// progress within the epoch and may be negative when unknown.
func (s *ProgressSampler) ShouldLog(epoch int, percent float64) bool {
	if s == nil {
		return true
	}
	emit := false
	if epoch != s.lastEpoch {
		s.lastEpoch = epoch
		s.lastBucket = -1
		emit = true
	}
	if percent >= 0 {
		bucket := int(percent / s.bucketSize)
		if percent >= 100 {
			bucket = int(100 / s.bucketSize)
		}
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state (e.g. when a new replicate starts).
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastEpoch = -1
	s.lastBucket = -1
}
