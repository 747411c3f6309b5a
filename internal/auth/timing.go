package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingDelay pads failed authentication so that unknown identities and
// wrong passwords take about the same time.
type TimingDelay struct {
	base   time.Duration
	jitter time.Duration
}

func NewTimingDelay(base, jitter time.Duration) *TimingDelay {
	return &TimingDelay{base: base, jitter: jitter}
}

// cryptoRandDuration returns a uniformly random duration in [0, max)
func cryptoRandDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(b[:]) % uint64(max))
}

// WaitFrom blocks until at least base+jitter has elapsed since start, or
// ctx is done.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time) {
	if td == nil {
		return
	}

	remaining := td.base + cryptoRandDuration(td.jitter) - time.Since(start)
	if remaining <= 0 {
		return
	}

	t := time.NewTimer(remaining)
	defer t.Stop()

	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
