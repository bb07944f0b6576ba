package syncer

import "time"

// Backoff returns the delay before the automatic retry that follows the
// n-th consecutive transient failure: base * 2^(n-1), capped at max.
func Backoff(base, max time.Duration, n int) time.Duration {
	if base <= 0 {
		return 0
	}
	if n < 1 {
		n = 1
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
		if d <= 0 {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
