package display

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"periph.io/x/conn/v3/gpio"
)

var (
	refreshCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "display_refreshes",
		Help: "count of bytes latched into the shift register",
	})

	refreshErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "display_refresh_errors",
		Help: "count of transmissions abandoned because a pin write failed",
	})

	patternGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "display_pattern",
		Help: "the byte currently shown on the LEDs",
	})
)

type txState int

const (
	stateIdle txState = iota
	stateShiftBit
	stateLatch
)

func (s txState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateShiftBit:
		return "shift"
	case stateLatch:
		return "latch"
	}
	return fmt.Sprintf("txState(%d)", int(s))
}

// transmitter clocks one byte out, LSB first.
type transmitter struct {
	r       *ShiftRegister
	b       byte
	bit     uint
	state   txState
	latched bool // The rising latch edge went out, so the LEDs show b.
}

func (t *transmitter) step() error {
	switch t.state {
	case stateShiftBit:
		if err := t.r.Clock.Out(gpio.Low); err != nil {
			return fmt.Errorf("bit %d: clock low: %w", t.bit, err)
		}
		if err := t.r.Data.Out(t.b&(1<<t.bit) != 0); err != nil {
			return fmt.Errorf("bit %d: data: %w", t.bit, err)
		}
		if err := t.r.Clock.Out(gpio.High); err != nil {
			return fmt.Errorf("bit %d: clock high: %w", t.bit, err)
		}
		t.bit++
		if t.bit == 8 {
			t.state = stateLatch
		}
	case stateLatch:
		// The storage register loads on the rising edge; that's the only moment the LEDs change.
		if err := t.r.Latch.Out(gpio.High); err != nil {
			return fmt.Errorf("latch high: %w", err)
		}
		t.latched = true
		if err := t.r.Latch.Out(gpio.Low); err != nil {
			return fmt.Errorf("latch low: %w", err)
		}
		t.state = stateIdle
	default:
		return fmt.Errorf("step in state %v", t.state)
	}
	return nil
}

// ShiftRegister drives a 74HC595 (or anything else that samples data on a rising clock and
// updates its outputs on a rising latch) with three GPIO lines.  The LED for bit i of the pattern
// is wired to output Q(7-i), because the first bit clocked in is pushed furthest down the chain.
type ShiftRegister struct {
	Data, Clock, Latch gpio.PinOut

	mu      sync.Mutex
	current byte // must hold mu to read or write.
}

// Refresh clocks b out and latches it onto the LEDs.  Sending the same byte twice is harmless.
// If a pin write fails the transmission is abandoned.  The LEDs keep whatever they last latched,
// unless the failure was in returning the latch low; then b is already showing and Current says so.
func (r *ShiftRegister) Refresh(b byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &transmitter{r: r, b: b, state: stateShiftBit}
	for tx.state != stateIdle {
		if err := tx.step(); err != nil {
			refreshErrorCounter.Inc()
			if tx.latched {
				r.setCurrent(b)
			}
			return fmt.Errorf("send %#04x: %w", b, err)
		}
	}
	r.setCurrent(b)
	refreshCounter.Inc()
	return nil
}

// setCurrent records what the LEDs show.  Must hold mu.
func (r *ShiftRegister) setCurrent(b byte) {
	r.current = b
	patternGauge.Set(float64(b))
}

// Show displays hours and minutes.
func (r *ShiftRegister) Show(hours, minutes int) error {
	return r.Refresh(Encode(hours, minutes))
}

// Blank turns every LED off.
func (r *ShiftRegister) Blank() error {
	if err := r.Refresh(0); err != nil {
		return fmt.Errorf("blank display: %w", err)
	}
	return nil
}

// Current returns the byte the LEDs are showing, which is the last one whose latch edge went out.
func (r *ShiftRegister) Current() byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
