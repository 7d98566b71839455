package scheduler

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"
)

const maxStartupSpread = 30 * time.Second

var spreadSeq uint64

// startupSpread returns a random delay in [0, min(every, 30s)) so interval tasks
// registered together at startup do not all fire in the same scan.
func startupSpread(every time.Duration, tag string) time.Duration {
	spreadMax := every
	if spreadMax > maxStartupSpread {
		spreadMax = maxStartupSpread
	}
	if spreadMax <= 0 {
		return 0
	}
	seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&spreadSeq, 1)) ^ int64(fnv64a(tag))
	rng := rand.New(rand.NewSource(seed))
	return time.Duration(rng.Int63n(int64(spreadMax)))
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
