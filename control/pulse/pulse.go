// Package pulse produces one event per mains cycle, either from a GPIO line fed by a
// zero-crossing detector or from a synthetic generator.
//
// Pulses are never dropped.  If the consumer falls behind, the source blocks until it catches up;
// the pulses that arrive meanwhile are either queued by the kernel (edges) or counted and made up
// later (the generator).
package pulse

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
	"periph.io/x/conn/v3/gpio"
)

var (
	pulsesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mains_pulses",
		Help: "count of mains pulses handed to the timekeeper",
	})

	timeoutCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mains_pulse_timeouts",
		Help: "count of times no mains pulse arrived within the edge timeout",
	})

	sendDelayMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulse_send_delay",
		Help:    "amount of time a pulse waited for the timekeeper to accept it, in nanoseconds",
		Buckets: prometheus.ExponentialBuckets(1000, 10, 8),
	})
)

// Source produces pulses on ch until the context is cancelled.
type Source interface {
	Run(ctx context.Context, ch chan<- time.Time) error
}

func send(ctx context.Context, ch chan<- time.Time, at time.Time) error {
	start := time.Now()
	select {
	case ch <- at:
		pulsesCounter.Inc()
		sendDelayMetric.Observe(float64(time.Since(start).Nanoseconds()))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting to send pulse: %w", ctx.Err())
	}
}

// Edge reads pulses from rising edges on a GPIO input.
type Edge struct {
	pin     gpio.PinIn
	timeout time.Duration
}

// DefaultTimeout is how long Edge waits for a pulse before deciding the mains input is gone.
const DefaultTimeout = time.Second

// NewEdge configures pin to report rising edges.  A timeout of zero means DefaultTimeout.
func NewEdge(pin gpio.PinIn, timeout time.Duration) (*Edge, error) {
	if pin == nil {
		return nil, errors.New("no pulse pin")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := pin.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return nil, fmt.Errorf("configure %s for rising edges: %w", pin, err)
	}
	return &Edge{pin: pin, timeout: timeout}, nil
}

// Run forwards one timestamp per rising edge.  Losing the mains signal is not an error; the clock
// just stops, and Run logs it and keeps waiting.
func (e *Edge) Run(ctx context.Context, ch chan<- time.Time) error {
	l := trace.NewEventLog("pulse", e.pin.String())
	defer l.Finish()
	lost := false
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("waiting for edge: %w", err)
		}
		if !e.pin.WaitForEdge(e.timeout) {
			timeoutCounter.Inc()
			if !lost {
				lost = true
				l.Errorf("no pulse on %s for %s", e.pin, e.timeout)
				log.Printf("no mains pulse on %s for %s; clock stopped", e.pin, e.timeout)
			}
			continue
		}
		if lost {
			lost = false
			l.Printf("pulses resumed")
			log.Printf("mains pulses resumed on %s", e.pin)
		}
		if err := send(ctx, ch, time.Now()); err != nil {
			return err
		}
	}
}

// Generator makes pulses at Frequency Hz from the host clock, for running without the mains
// hardware.  Speedup runs the clock faster than real time; zero means 1.
type Generator struct {
	Frequency int
	Speedup   int
}

func (g *Generator) rate() (int64, error) {
	if g.Frequency <= 0 {
		return 0, fmt.Errorf("generator frequency %d must be positive", g.Frequency)
	}
	speedup := g.Speedup
	if speedup <= 0 {
		speedup = 1
	}
	return int64(g.Frequency) * int64(speedup), nil
}

// due returns how many pulses should have been sent by d after starting.
func due(rate int64, d time.Duration) int64 {
	return int64(d)/int64(time.Second)*rate + int64(d)%int64(time.Second)*rate/int64(time.Second)
}

// Run sends pulses until the context is cancelled.  Pulses that were due while the receiver was
// busy are sent as soon as it is ready again, so the count stays right even if the timing doesn't.
func (g *Generator) Run(ctx context.Context, ch chan<- time.Time) error {
	rate, err := g.rate()
	if err != nil {
		return err
	}
	l := trace.NewEventLog("pulse", "generator")
	defer l.Finish()
	l.Printf("generating %d pulses per second", rate)

	interval := time.Second / time.Duration(rate)
	if interval < time.Millisecond {
		// Fast simulations send pulses in batches.
		interval = time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	start := time.Now()
	var sent int64
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for next pulse: %w", ctx.Err())
		case now := <-t.C:
			for want := due(rate, now.Sub(start)); sent < want; sent++ {
				if err := send(ctx, ch, now); err != nil {
					return err
				}
			}
		}
	}
}
