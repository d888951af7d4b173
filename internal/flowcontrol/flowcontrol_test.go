package flowcontrol

import "testing"

func TestCleanEpochsIncreaseBudget(t *testing.T) {
	e := New()
	start := e.BudgetBytesPerSec()
	e.OnEpoch(false)
	if e.BudgetBytesPerSec() <= start {
		t.Errorf("BudgetBytesPerSec() after clean epoch = %v, want > %v", e.BudgetBytesPerSec(), start)
	}
}

func TestLossyEpochHalvesBudget(t *testing.T) {
	e := New()
	for i := 0; i < 5; i++ {
		e.OnEpoch(false)
	}
	before := e.BudgetBytesPerSec()
	e.OnEpoch(true)
	after := e.BudgetBytesPerSec()
	if after > before/2+1 {
		t.Errorf("BudgetBytesPerSec() after loss = %v, want roughly %v", after, before/2)
	}
}

func TestBudgetNeverBelowFloor(t *testing.T) {
	e := New()
	for i := 0; i < 10; i++ {
		e.OnEpoch(true)
	}
	if e.BudgetBytesPerSec() < MinRateLimitBytesPerSec {
		t.Errorf("BudgetBytesPerSec() = %v, want >= %v", e.BudgetBytesPerSec(), MinRateLimitBytesPerSec)
	}
}

func TestStreamPriorityOrder(t *testing.T) {
	want := [4]StreamPriority{PriorityUnordered, PriorityStream1, PriorityStream2, PriorityStream3}
	if Streams != want {
		t.Errorf("Streams = %v, want %v", Streams, want)
	}
}

func TestExempt(t *testing.T) {
	if !Exempt(true, false) {
		t.Errorf("Exempt(internal=true) = false, want true")
	}
	if !Exempt(false, true) {
		t.Errorf("Exempt(unreliable=true) = false, want true")
	}
	if Exempt(false, false) {
		t.Errorf("Exempt(false, false) = true, want false")
	}
}
