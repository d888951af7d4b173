package clocksync

import "testing"

func TestFastThenSteadyCadence(t *testing.T) {
	e := New()
	for i := 0; i < TSFastCount; i++ {
		if got := e.NextPingIntervalMS(); got != TSFastPeriod {
			t.Fatalf("NextPingIntervalMS() ping %d = %d, want %d", i, got, TSFastPeriod)
		}
		e.OnPong(uint32(i*2000), uint32(i*2000+40), uint32(i*2000+20))
	}
	if got := e.NextPingIntervalMS(); got != TSInterval {
		t.Errorf("NextPingIntervalMS() after fast phase = %d, want %d", got, TSInterval)
	}
}

func TestEstimateConvergesWithinFiveMS(t *testing.T) {
	e := New()
	const trueDelta = 1000
	const baseRTT = 40
	send := uint32(0)
	for i := 0; i < TSFastCount; i++ {
		rtt := uint32(baseRTT + (i % 5))
		recv := send + rtt
		peer := send + rtt/2 + trueDelta
		e.OnPong(send, recv, peer)
		send += 2000
	}
	delta, _, ok := e.Estimate()
	if !ok {
		t.Fatalf("Estimate() ok = false")
	}
	diff := delta - trueDelta
	if diff < -5 || diff > 5 {
		t.Errorf("Estimate() delta = %d, want within 5 of %d", delta, trueDelta)
	}
}

func TestEstimateNotOKWithoutSamples(t *testing.T) {
	e := New()
	if _, _, ok := e.Estimate(); ok {
		t.Errorf("Estimate() ok = true with no samples, want false")
	}
}

func TestRingBufferBounded(t *testing.T) {
	e := New()
	for i := 0; i < TSMaxSamples*2; i++ {
		e.OnPong(uint32(i*1000), uint32(i*1000+30), uint32(i*1000+15))
	}
	if len(e.samples) != TSMaxSamples {
		t.Errorf("len(samples) = %d, want %d", len(e.samples), TSMaxSamples)
	}
}
