// Package memmon implements the memory-pressure back-pressure signal: a
// background sampler that raises a pause flag when host memory usage crosses
// a high-water mark and clears it, waking every waiter, once it drops below a
// low-water mark.
//
// No library in the retrieved example pack reads host memory percentage
// (runtime.MemStats measures the Go heap, not host RAM, and is the wrong
// metric here) — so this component reads /proc/meminfo directly with the
// stdlib. See DESIGN.md.
package memmon

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Handle is a cheap, clonable observer of the pause state, handed to
// workers. Monitor itself owns the sampling loop.
type Handle struct {
	paused *atomic.Bool
	cond   *sync.Cond
}

// Paused reports the current pause state.
func (h *Handle) Paused() bool { return h.paused.Load() }

// WaitIfPaused blocks while the flag is set, returning as soon as it clears.
// Returns immediately if the flag is already clear.
func (h *Handle) WaitIfPaused(ctx context.Context) {
	if !h.paused.Load() {
		return
	}
	h.cond.L.Lock()
	defer h.cond.L.Unlock()
	for h.paused.Load() {
		if ctx.Err() != nil {
			return
		}
		h.cond.Wait()
	}
}

// Monitor samples host memory usage on an interval and drives a Handle.
type Monitor struct {
	highThreshold float64
	lowThreshold  float64
	interval      time.Duration

	paused *atomic.Bool
	cond   *sync.Cond

	readPercent func() (float64, bool)
}

// New constructs a Monitor. highThreshold/lowThreshold are used% values,
// e.g. 90 and 75.
func New(highThreshold, lowThreshold float64, interval time.Duration) *Monitor {
	paused := &atomic.Bool{}
	return &Monitor{
		highThreshold: highThreshold,
		lowThreshold:  lowThreshold,
		interval:      interval,
		paused:        paused,
		cond:          sync.NewCond(&sync.Mutex{}),
		readPercent:   readMemInfoPercent,
	}
}

// Handle returns a clonable observer for workers to hold.
func (m *Monitor) Handle() *Handle {
	return &Handle{paused: m.paused, cond: m.cond}
}

// Run blocks, sampling until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleOnce()
		}
	}
}

func (m *Monitor) sampleOnce() {
	percent, ok := m.readPercent()
	if !ok {
		return
	}
	paused := m.paused.Load()
	switch {
	case !paused && percent > m.highThreshold:
		m.paused.Store(true)
		slog.Warn("memory pressure: pausing workers", "used_percent", percent, "high_threshold", m.highThreshold)
	case paused && percent < m.lowThreshold:
		// Hold cond.L across the store, the same
		// discipline WaitIfPaused uses around its check-then-Wait — without
		// it a waiter between its own check and cond.Wait() misses this
		// broadcast entirely and hangs until the next high→low transition.
		m.cond.L.Lock()
		m.paused.Store(false)
		m.cond.L.Unlock()
		slog.Info("memory pressure relieved: resuming workers", "used_percent", percent, "low_threshold", m.lowThreshold)
		m.cond.Broadcast()
	default:
		slog.Debug("memory sample", "used_percent", percent, "paused", paused)
	}
}

// readMemInfoPercent parses /proc/meminfo for MemTotal/MemAvailable. Returns
// ok=false on platforms where the file doesn't exist, effectively disabling
// the monitor rather than guessing at a percentage.
func readMemInfoPercent() (float64, bool) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	defer f.Close()

	var totalKB, availKB int64
	found := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			totalKB = parseKB(line)
			found++
		case strings.HasPrefix(line, "MemAvailable:"):
			availKB = parseKB(line)
			found++
		}
		if found == 2 {
			break
		}
	}
	if totalKB == 0 {
		return 0, false
	}
	usedPercent := (float64(totalKB-availKB) / float64(totalKB)) * 100.0
	return usedPercent, true
}

func parseKB(line string) int64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	n, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
