// Package timekeeper turns mains-frequency pulses into a 12-hour wall clock.
//
// The grid is the oscillator.  Utilities keep the long-term average of the line frequency very
// close to nominal, so counting cycles gives a clock that wanders by a few seconds over a day but
// doesn't accumulate error over a month.  There is no crystal and no software correction; if the
// configured frequency is wrong, the clock is wrong.
package timekeeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timekeeper_ticks",
		Help: "count of mains pulses retired by the timekeeper",
	})

	refreshCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timekeeper_display_refreshes",
		Help: "count of times the timekeeper asked the display to show a new time",
	})

	refreshErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timekeeper_display_errors",
		Help: "count of display refreshes that returned an error",
	})

	retireDelayMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "timekeeper_retire_delay",
		Help:    "amount of time between a pulse being observed and the timekeeper retiring it, in nanoseconds",
		Buckets: prometheus.ExponentialBuckets(1000, 10, 8),
	})
)

// ErrFrequency is returned for a mains frequency that can't count seconds.
var ErrFrequency = errors.New("mains frequency must be positive")

// Display is something that can show hours and minutes.
type Display interface {
	Show(hours, minutes int) error
}

// Time is a time of day on a 12-hour wheel.  There is no AM or PM.
type Time struct {
	Hours   int // 1-12
	Minutes int // 0-59
	Seconds int // 0-59
}

// Valid returns an error if t is not a time that the clock can display.
func (t Time) Valid() error {
	if t.Hours < 1 || t.Hours > 12 {
		return fmt.Errorf("hours %d out of range [1,12]", t.Hours)
	}
	if t.Minutes < 0 || t.Minutes > 59 {
		return fmt.Errorf("minutes %d out of range [0,59]", t.Minutes)
	}
	if t.Seconds < 0 || t.Seconds > 59 {
		return fmt.Errorf("seconds %d out of range [0,59]", t.Seconds)
	}
	return nil
}

func (t Time) String() string {
	return fmt.Sprintf("%d:%02d:%02d", t.Hours, t.Minutes, t.Seconds)
}

// ParseTime parses a time like "12:00:00" or "9:35:00".  The hour may have one or two digits;
// minutes and seconds must have exactly two.
func ParseTime(s string) (Time, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Time{}, fmt.Errorf("parse time %q: want H:MM:SS", s)
	}
	var fields [3]int
	for i, p := range parts {
		if !digits(p) || len(p) > 2 || (i > 0 && len(p) != 2) {
			return Time{}, fmt.Errorf("parse time %q: want H:MM:SS", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return Time{}, fmt.Errorf("parse time %q: %w", s, err)
		}
		fields[i] = n
	}
	t := Time{Hours: fields[0], Minutes: fields[1], Seconds: fields[2]}
	if err := t.Valid(); err != nil {
		return Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Timekeeper counts pulses.  Tick must only be called from one goroutine at a time; Run does
// that for you.  The accessors may be called from anywhere.
type Timekeeper struct {
	freq int

	mu     sync.Mutex
	now    Time   // must hold mu to read or write.
	ticks  int    // pulses into the current second; must hold mu.
	pulses uint64 // pulses since start; must hold mu.
}

// New returns a Timekeeper that adds one second every freq pulses, starting at start.
func New(freq int, start Time) (*Timekeeper, error) {
	if freq <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrFrequency, freq)
	}
	if err := start.Valid(); err != nil {
		return nil, fmt.Errorf("start time: %w", err)
	}
	return &Timekeeper{freq: freq, now: start}, nil
}

// Tick accounts for one mains pulse.  It returns true if the minutes changed, which means the
// display needs refreshing.
func (k *Timekeeper) Tick() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	ticksCounter.Inc()
	k.pulses++
	k.ticks++
	if k.ticks < k.freq {
		return false
	}
	k.ticks = 0
	k.now.Seconds++
	if k.now.Seconds < 60 {
		return false
	}
	k.now.Seconds = 0
	k.now.Minutes++
	if k.now.Minutes == 60 {
		k.now.Minutes = 0
		k.now.Hours++
		if k.now.Hours == 13 {
			k.now.Hours = 1
		}
	}
	return true
}

// Now returns the current time.
func (k *Timekeeper) Now() Time {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.now
}

// Pulses returns the number of pulses retired since the Timekeeper was created.
func (k *Timekeeper) Pulses() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pulses
}

// Frequency returns the configured mains frequency.
func (k *Timekeeper) Frequency() int {
	return k.freq
}

func (k *Timekeeper) show(d Display) {
	t := k.Now()
	refreshCounter.Inc()
	if err := d.Show(t.Hours, t.Minutes); err != nil {
		// Nothing to tell; the LEDs are the only output.  The next minute will try again.
		refreshErrorCounter.Inc()
		log.Printf("show %s: %v", t, err)
	}
}

// Run shows the current time on d, then retires pulses from the channel in order until the
// context is cancelled or the channel is closed.  d is refreshed every time the minutes change.
func (k *Timekeeper) Run(ctx context.Context, pulses <-chan time.Time, d Display) error {
	k.show(d)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for pulse: %w", ctx.Err())
		case at, ok := <-pulses:
			if !ok {
				return errors.New("pulse source closed")
			}
			if !at.IsZero() {
				retireDelayMetric.Observe(float64(time.Since(at).Nanoseconds()))
			}
			if k.Tick() {
				k.show(d)
			}
		}
	}
}
