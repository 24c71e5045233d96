package gitfs

import (
	"math/rand"
	"time"
)

// jitter returns a duration between d and d + maxFactor*d, to keep
// multiple gitfs processes from synchronizing their update cycles.
func jitter(d time.Duration, maxFactor float64) time.Duration {
	return d + time.Duration(rand.Float64()*maxFactor*float64(d))
}
