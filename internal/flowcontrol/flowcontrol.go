// Package flowcontrol implements the per-Connexion AIMD send-budget
// estimator: each OnEpoch call grows the allowed byte rate additively when
// no loss is reported and cuts it multiplicatively, down to a floor, when
// loss is reported. golang.org/x/time/rate's
// token bucket is reused as the underlying limiter so the estimator only
// has to decide the bucket's refill rate, not reimplement pacing.
package flowcontrol

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// EpochIntervalMS is the nominal AIMD decision period. The Estimator does
// not read it; the caller decides when OnEpoch runs.
const EpochIntervalMS = 500

// MinRateLimitBytesPerSec is the floor the budget can never multiplicatively
// decrease below, preventing a single bad epoch from starving a Connexion
// entirely.
const MinRateLimitBytesPerSec = 100 * 1024

// additiveIncreaseBytesPerSec is added to the budget each clean epoch.
const additiveIncreaseBytesPerSec = 16 * 1024

// multiplicativeDecreaseFactor scales the budget down on loss.
const multiplicativeDecreaseFactor = 0.5

// Estimator tracks one Connexion's send budget and exposes it as a
// rate.Limiter for callers to consult before dequeuing a datagram.
type Estimator struct {
	mu          sync.Mutex
	bytesPerSec float64
	limiter     *rate.Limiter
	lastEpoch   time.Time
}

// New returns an Estimator starting at the floor rate.
func New() *Estimator {
	e := &Estimator{
		bytesPerSec: MinRateLimitBytesPerSec,
		lastEpoch:   time.Time{},
	}
	e.limiter = rate.NewLimiter(rate.Limit(e.bytesPerSec), int(e.bytesPerSec))
	return e
}

// Limiter returns the current token bucket. The returned pointer is
// replaced (not mutated) on every OnEpoch call, so callers should re-fetch
// it rather than holding it across epochs.
func (e *Estimator) Limiter() *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limiter
}

// BudgetBytesPerSec returns the current estimated budget.
func (e *Estimator) BudgetBytesPerSec() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bytesPerSec
}

// OnEpoch applies one AIMD step, whatever time has passed since the
// previous call: halve the rate (not below the floor) if lossObserved,
// otherwise add additiveIncreaseBytesPerSec.
func (e *Estimator) OnEpoch(lossObserved bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lossObserved {
		e.bytesPerSec *= multiplicativeDecreaseFactor
		if e.bytesPerSec < MinRateLimitBytesPerSec {
			e.bytesPerSec = MinRateLimitBytesPerSec
		}
	} else {
		e.bytesPerSec += additiveIncreaseBytesPerSec
	}
	e.limiter = rate.NewLimiter(rate.Limit(e.bytesPerSec), int(e.bytesPerSec))
}

// StreamPriority orders the four Sphynx streams for budget allocation:
// unordered traffic is serviced first, then ordered streams 1, 2, 3 in
// that order, with no fairness across streams — a higher-priority stream
// with data ready always drains before a lower one is touched.
type StreamPriority int

const (
	PriorityUnordered StreamPriority = iota
	PriorityStream1
	PriorityStream2
	PriorityStream3
)

// Streams lists every stream in send priority order.
var Streams = [4]StreamPriority{PriorityUnordered, PriorityStream1, PriorityStream2, PriorityStream3}

// Exempt reports whether traffic on this class bypasses the budget
// entirely: internal control messages and explicitly unreliable sends are
// never throttled, matching the original's treatment of those classes.
func Exempt(internal, unreliable bool) bool {
	return internal || unreliable
}
