// Package drift measures how far the mains clock has wandered from the host's clock.
//
// Nothing here corrects the clock.  The numbers are for the /metrics page, so that you can watch
// the grid speed up and slow down over the day and see whether the operator really does make up
// the lost cycles overnight.
package drift

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

var (
	frequencyGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mains_frequency_hz",
		Help: "mains frequency measured over the last sample interval",
	})

	driftGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mains_clock_drift_seconds",
		Help: "time counted from mains pulses minus time elapsed on the host clock, since start",
	})
)

// Counter is the part of the timekeeper that the monitor reads.
type Counter interface {
	Pulses() uint64
	Frequency() int
}

// Reference says whether the host clock is worth comparing against.
type Reference interface {
	Synchronized(ctx context.Context) (bool, error)
}

// Sample is one comparison between pulses and the host clock.
type Sample struct {
	At        time.Time
	Pulses    uint64
	Frequency float64       // Hz, since the previous sample; zero for the first sample.
	Drift     time.Duration // Positive when the mains clock is ahead.
}

// Monitor periodically compares the pulse count against the host clock.
type Monitor struct {
	Clock     Counter
	Reference Reference // Optional.
	Interval  time.Duration

	first, last *Sample
}

// DefaultInterval is how often Run samples when Interval is zero.
const DefaultInterval = time.Minute

// pulseDuration converts a number of pulses to the time they represent at the nominal frequency,
// without overflowing for any realistic uptime.
func pulseDuration(pulses uint64, freq int) time.Duration {
	f := uint64(freq)
	return time.Duration(pulses/f)*time.Second + time.Duration(pulses%f)*time.Second/time.Duration(f)
}

// Sample records the pulse count at now and returns the comparison.  now should carry a
// monotonic clock reading, as time.Now() does.
func (m *Monitor) Sample(now time.Time, pulses uint64) Sample {
	s := Sample{At: now, Pulses: pulses}
	if m.first == nil {
		m.first = &s
		m.last = &s
		return s
	}
	if dt := now.Sub(m.last.At).Seconds(); dt > 0 {
		s.Frequency = float64(pulses-m.last.Pulses) / dt
	}
	s.Drift = pulseDuration(pulses-m.first.Pulses, m.Clock.Frequency()) - now.Sub(m.first.At)
	m.last = &s
	return s
}

func (m *Monitor) sample(ctx context.Context, l trace.EventLog) {
	s := m.Sample(time.Now(), m.Clock.Pulses())
	if s.Frequency != 0 {
		frequencyGauge.Set(s.Frequency)
	}
	trusted := true
	if m.Reference != nil {
		ok, err := m.Reference.Synchronized(ctx)
		if err != nil {
			l.Errorf("check reference clock: %v", err)
			trusted = false
		} else if !ok {
			l.Errorf("reference clock is not synchronized; not reporting drift")
			trusted = false
		}
	}
	if trusted {
		driftGauge.Set(s.Drift.Seconds())
	}
	l.Printf("pulses: %d, frequency: %.4fHz, drift: %s", s.Pulses, s.Frequency, s.Drift)
}

// Run samples every Interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if m.Clock == nil {
		return fmt.Errorf("drift monitor has no clock")
	}
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	l := trace.NewEventLog("monitor", "drift")
	defer l.Finish()
	log.Printf("sampling mains drift every %s", interval)

	m.sample(ctx, l)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for next sample: %w", ctx.Err())
		case <-t.C:
			m.sample(ctx, l)
		}
	}
}
