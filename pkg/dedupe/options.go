package dedupe

import "time"

const (
	// DefaultMaxBuckets bounds the bucket ring.
	DefaultMaxBuckets = 255
	// DefaultRotateEveryN is the insertions-per-bucket threshold.
	DefaultRotateEveryN = 1000000
	// DefaultCheckInterval is how often the rotation manager wakes to
	// compare the insertion counter against the threshold.
	DefaultCheckInterval = 50 * time.Millisecond
)

type options struct {
	maxBuckets    int
	rotateEveryN  uint64
	checkInterval time.Duration
}

// Option customizes a filter.
type Option func(*options)

// WithMaxBuckets sets the bucket ring bound.
func WithMaxBuckets(n int) Option {
	return func(o *options) {
		o.maxBuckets = n
	}
}

// WithRotateEveryN sets the insertions-per-bucket rotation threshold.
func WithRotateEveryN(n uint64) Option {
	return func(o *options) {
		o.rotateEveryN = n
	}
}

// WithCheckInterval sets the rotation manager's wake interval.
func WithCheckInterval(d time.Duration) Option {
	return func(o *options) {
		o.checkInterval = d
	}
}

func defaultOptions() *options {
	return &options{
		maxBuckets:    DefaultMaxBuckets,
		rotateEveryN:  DefaultRotateEveryN,
		checkInterval: DefaultCheckInterval,
	}
}
