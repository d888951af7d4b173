// Package clocksync estimates the offset between a Connexion's local
// clock and its peer's, from ping/pong round trips, so timestamps carried
// in the wire protocol can be compared across machines.
package clocksync

import (
	"sort"
	"time"
)

// TSFastPeriod is the ping interval used for the first TSFastCount samples
// after a connection is established, letting the estimate converge
// quickly before settling into the steady-state TSInterval cadence.
const TSFastPeriod = 2000

// TSFastCount is the number of fast-period pings sent before switching to
// the steady-state interval.
const TSFastCount = 20

// TSInterval is the steady-state ping interval in milliseconds.
const TSInterval = 10000

// TSMaxSamples bounds the ring buffer of retained round trips.
const TSMaxSamples = 16

// Sample is one ping/pong round trip observation.
type Sample struct {
	RTTMS   uint32
	DeltaMS int32 // peer clock minus local clock, at the midpoint of the round trip
}

// Estimator maintains a ring buffer of samples and reports the current
// best offset/RTT estimate by averaging the lowest-RTT quartile, since the
// fastest round trips are the ones least distorted by queuing delay.
type Estimator struct {
	samples []Sample
	pings   int
}

// New returns an empty Estimator.
func New() *Estimator {
	return &Estimator{samples: make([]Sample, 0, TSMaxSamples)}
}

// NextPingIntervalMS returns how long to wait before the next ping, per
// the fast-then-steady cadence.
func (e *Estimator) NextPingIntervalMS() uint32 {
	if e.pings < TSFastCount {
		return TSFastPeriod
	}
	return TSInterval
}

// OnPong records one round trip. sendLocalMS and recvLocalMS are this
// Connexion's local clock readings at ping send and pong receive;
// peerLocalMS is the peer's clock reading echoed back in the pong.
func (e *Estimator) OnPong(sendLocalMS, recvLocalMS, peerLocalMS uint32) {
	e.pings++
	rtt := recvLocalMS - sendLocalMS
	midpointLocal := sendLocalMS + rtt/2
	delta := int32(peerLocalMS) - int32(midpointLocal)

	s := Sample{RTTMS: rtt, DeltaMS: delta}
	if len(e.samples) < TSMaxSamples {
		e.samples = append(e.samples, s)
	} else {
		copy(e.samples, e.samples[1:])
		e.samples[len(e.samples)-1] = s
	}
}

// Estimate returns the averaged delta (peer-minus-local clock offset) and
// average RTT across the best quartile of retained samples by RTT. ok is
// false until at least one sample has been recorded.
func (e *Estimator) Estimate() (deltaMS int32, rttMS uint32, ok bool) {
	if len(e.samples) == 0 {
		return 0, 0, false
	}
	sorted := make([]Sample, len(e.samples))
	copy(sorted, e.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RTTMS < sorted[j].RTTMS })

	n := len(sorted) / 4
	if n == 0 {
		n = 1
	}
	var sumDelta int64
	var sumRTT int64
	for _, s := range sorted[:n] {
		sumDelta += int64(s.DeltaMS)
		sumRTT += int64(s.RTTMS)
	}
	return int32(sumDelta / int64(n)), uint32(sumRTT / int64(n)), true
}

// NowMS returns the local wall clock in milliseconds, truncated to 32
// bits, the width of the ping/pong time fields: the ping/pong exchange
// only ever compares nearby readings, so wraparound is harmless.
func NowMS() uint32 {
	return uint32(time.Now().UnixMilli())
}

// LocalToPeer converts a local clock reading to the peer's clock using the
// current best estimate.
func (e *Estimator) LocalToPeer(localMS uint32) uint32 {
	delta, _, _ := e.Estimate()
	return uint32(int64(localMS) + int64(delta))
}
