package scheduler

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// startupSpreadSchedule delays the first fire of an interval job so several
// daemons started together do not poll the store in lockstep.
type startupSpreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *startupSpreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

var spreadSeq uint64

// makeIntervalScheduleWithSpread returns cron.Every(every) whose first fire
// is pushed back by a random spread below min(every, maxStartupSpread).
func makeIntervalScheduleWithSpread(every time.Duration, now time.Time, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	spread := spreadFor(every, tag)
	if spread == 0 {
		return base, 0
	}
	return &startupSpreadSchedule{base: base, first: now.Add(every + spread)}, spread
}

func spreadFor(every time.Duration, tag string) time.Duration {
	limit := min(every, maxStartupSpread)
	if limit <= 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(tag))
	seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&spreadSeq, 1)) ^ int64(h.Sum64())
	return time.Duration(rand.New(rand.NewSource(seed)).Int63n(int64(limit)))
}
