// Package progress tracks completion of long-running fan-out work and logs
// periodic status lines with throughput and an ETA.
package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultLogInterval bounds how often a status line is emitted.
const DefaultLogInterval = 10 * time.Second

// Tracker counts completed units of work. Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	name     string
	total    int
	done     int
	failed   int
	start    time.Time
	lastLog  time.Time
	interval time.Duration
}

// NewTracker starts tracking a batch of the given size.
func NewTracker(name string, total int) *Tracker {
	now := time.Now()
	return &Tracker{
		name:     name,
		total:    total,
		start:    now,
		lastLog:  now,
		interval: DefaultLogInterval,
	}
}

// Step records one completed unit and emits a status line when the log
// interval has elapsed.
func (t *Tracker) Step(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done++
	if !ok {
		t.failed++
	}
	if time.Since(t.lastLog) < t.interval && t.done < t.total {
		return
	}
	t.lastLog = time.Now()
	t.logLocked()
}

func (t *Tracker) logLocked() {
	elapsed := time.Since(t.start)
	ev := log.Info().
		Str("task", t.name).
		Int("done", t.done).
		Int("total", t.total).
		Int("failed", t.failed).
		Dur("elapsed", elapsed.Round(time.Second))
	if t.done > 0 && t.done < t.total {
		perUnit := elapsed / time.Duration(t.done)
		ev = ev.Dur("eta", (perUnit * time.Duration(t.total-t.done)).Round(time.Second))
	}
	ev.Msg("progress")
}

// Elapsed returns the wall time since tracking started.
func (t *Tracker) Elapsed() time.Duration {
	return time.Since(t.start)
}
