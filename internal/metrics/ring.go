package metrics

import "sync"

// SampleRing is a thread-safe circular buffer retaining the most recent raw
// samples for export. Aggregation never depends on it; when full, the oldest
// sample is overwritten.
type SampleRing struct {
	mu      sync.Mutex
	samples []Sample
	head    int // next write position
	full    bool
	cap     int
}

// NewSampleRing creates a ring with the given capacity.
func NewSampleRing(capacity int) *SampleRing {
	if capacity < 1 {
		capacity = 1
	}
	return &SampleRing{
		samples: make([]Sample, capacity),
		cap:     capacity,
	}
}

// Add appends a sample, overwriting the oldest when full.
func (sr *SampleRing) Add(s Sample) {
	sr.mu.Lock()
	sr.samples[sr.head] = s
	sr.head = (sr.head + 1) % sr.cap
	if sr.head == 0 {
		sr.full = true
	}
	sr.mu.Unlock()
}

// Len returns the number of samples currently held.
func (sr *SampleRing) Len() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.lenLocked()
}

func (sr *SampleRing) lenLocked() int {
	if sr.full {
		return sr.cap
	}
	return sr.head
}

// Samples returns the retained samples in arrival order, oldest first.
func (sr *SampleRing) Samples() []Sample {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	n := sr.lenLocked()
	if n == 0 {
		return nil
	}
	out := make([]Sample, n)
	start := 0
	if sr.full {
		start = sr.head
	}
	for i := 0; i < n; i++ {
		out[i] = sr.samples[(start+i)%sr.cap]
	}
	return out
}
