package logging

// ProgressSampler thins per-segment transcoder progress down to one log line
// per percentage bucket. Moving to a new segment starts the buckets over.
type ProgressSampler struct {
	bucketSize  float64
	lastSegment int
	lastBucket  int
}

// NewProgressSampler constructs a sampler with the given bucket width in
// percent (default 25).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 25
	}
	return &ProgressSampler{bucketSize: bucketSize, lastSegment: -1, lastBucket: -1}
}

// ShouldLog reports whether progress for segment at percent deserves a log
// line. Negative percent means unknown and only logs on a segment change.
func (s *ProgressSampler) ShouldLog(segment int, percent float64) bool {
	if s == nil {
		return true
	}
	emit := false
	if segment != s.lastSegment {
		s.lastSegment = segment
		s.lastBucket = -1
		emit = true
	}
	if percent < 0 {
		return emit
	}
	if percent > 100 {
		percent = 100
	}
	if bucket := int(percent / s.bucketSize); bucket > s.lastBucket {
		s.lastBucket = bucket
		emit = true
	}
	return emit
}

// Reset forgets the last segment and bucket.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastSegment = -1
	s.lastBucket = -1
}
