package memmon

import (
	"context"
	"testing"
	"time"
)

func TestWaitIfPausedReturnsImmediatelyWhenNotPaused(t *testing.T) {
	m := New(90, 75, time.Hour)
	h := m.Handle()

	done := make(chan struct{})
	go func() {
		h.WaitIfPaused(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused blocked despite not being paused")
	}
}

func TestSampleOnceSetsAndClearsPause(t *testing.T) {
	m := New(90, 75, time.Hour)
	calls := []float64{95, 95, 60}
	i := 0
	m.readPercent = func() (float64, bool) {
		v := calls[i]
		if i < len(calls)-1 {
			i++
		}
		return v, true
	}

	m.sampleOnce()
	if !m.Handle().Paused() {
		t.Fatal("expected paused after a high sample")
	}

	m.sampleOnce() // still high, idempotent
	if !m.Handle().Paused() {
		t.Fatal("expected still paused")
	}

	m.sampleOnce() // drops below low threshold
	if m.Handle().Paused() {
		t.Fatal("expected unpaused after a low sample")
	}
}

func TestHandleClone(t *testing.T) {
	m := New(90, 75, time.Hour)
	h1 := m.Handle()
	h2 := m.Handle()
	m.readPercent = func() (float64, bool) { return 95, true }
	m.sampleOnce()
	if !h1.Paused() || !h2.Paused() {
		t.Fatal("expected both handles to observe the same paused state")
	}
}

func TestWaitIfPausedWakesOnBroadcast(t *testing.T) {
	m := New(90, 75, time.Hour)
	m.readPercent = func() (float64, bool) { return 95, true }
	m.sampleOnce()

	h := m.Handle()
	done := make(chan struct{})
	go func() {
		h.WaitIfPaused(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitIfPaused returned before the flag cleared")
	case <-time.After(50 * time.Millisecond):
	}

	m.readPercent = func() (float64, bool) { return 60, true }
	m.sampleOnce()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not wake after broadcast")
	}
}

// TestWaitIfPausedWakesOnImmediateBroadcast gives the waiter no head start,
// unlike TestWaitIfPausedWakesOnBroadcast — it races the waiter's own
// check-then-Wait against sampleOnce's clear-and-broadcast on every
// iteration, so a regression that drops the cond.L lock around the store
// would eventually leave a waiter stuck past the deadline.
func TestWaitIfPausedWakesOnImmediateBroadcast(t *testing.T) {
	for i := 0; i < 200; i++ {
		m := New(90, 75, time.Hour)
		m.readPercent = func() (float64, bool) { return 95, true }
		m.sampleOnce()

		h := m.Handle()
		done := make(chan struct{})
		go func() {
			h.WaitIfPaused(context.Background())
			close(done)
		}()

		m.readPercent = func() (float64, bool) { return 60, true }
		m.sampleOnce()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: WaitIfPaused did not wake after an immediate broadcast", i)
		}
	}
}
