package retry

import (
	"math/rand/v2"
	"time"
)

// Jitter returns a uniformly random duration in [lo, hi]. If hi <= lo it
// returns lo.
func Jitter(lo, hi time.Duration) time.Duration {
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
