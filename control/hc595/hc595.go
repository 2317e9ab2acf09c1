// Package hc595 simulates a 74HC595 serial-in/parallel-out shift register behind periph GPIO pins,
// so the clock can run without hardware and so the wire protocol can be checked in tests.
//
// Data is sampled on the rising edge of SHCP (the clock line); the storage register copies the
// shift stages on the rising edge of STCP (the latch line).  Output enable and master reset are not
// modelled.
package hc595

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// ErrNotImplemented is returned by PWM; the simulated lines are plain outputs.
var ErrNotImplemented = errors.New("hc595: not implemented")

// Line names one of the three inputs of the register.
type Line int

const (
	Data Line = iota
	Clock
	Latch
)

func (l Line) String() string {
	switch l {
	case Data:
		return "DS"
	case Clock:
		return "SHCP"
	case Latch:
		return "STCP"
	}
	return fmt.Sprintf("Line(%d)", int(l))
}

// Event is one write to one of the input lines.
type Event struct {
	Line  Line
	Level gpio.Level
}

func (e Event) String() string {
	return fmt.Sprintf("%v=%v", e.Line, e.Level)
}

// Sim is a simulated 74HC595.  The zero value is ready to use; all lines start low.
type Sim struct {
	mu         sync.Mutex
	levels     [3]gpio.Level // current level of each input line.
	stages     uint8         // shift register; bit i is stage Qi'.
	outputs    uint8         // storage register; bit i is output Qi.
	bits       []gpio.Level  // data sampled on each clock edge since the last latch.
	transcript []Event
}

// DataPin returns the pin connected to DS.
func (s *Sim) DataPin() gpio.PinOut { return &Pin{sim: s, line: Data} }

// ClockPin returns the pin connected to SHCP.
func (s *Sim) ClockPin() gpio.PinOut { return &Pin{sim: s, line: Clock} }

// LatchPin returns the pin connected to STCP.
func (s *Sim) LatchPin() gpio.PinOut { return &Pin{sim: s, line: Latch} }

func (s *Sim) write(line Line, l gpio.Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, Event{Line: line, Level: l})
	rising := !s.levels[line] && l
	s.levels[line] = l
	if !rising {
		return
	}
	switch line {
	case Clock:
		s.stages <<= 1
		if s.levels[Data] {
			s.stages |= 1
		}
		s.bits = append(s.bits, s.levels[Data])
	case Latch:
		s.outputs = s.stages
		s.bits = nil
	}
}

// Q returns the level of parallel output Qi.
func (s *Sim) Q(i int) gpio.Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs&(1<<uint(i)) != 0
}

// Outputs returns the parallel outputs in the order they were shifted in: bit i of the result is
// the i'th bit clocked in before the latch, which ends up on Q(7-i).
func (s *Sim) Outputs() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b byte
	for i := 0; i < 8; i++ {
		if s.outputs&(1<<uint(7-i)) != 0 {
			b |= 1 << uint(i)
		}
	}
	return b
}

// Bits returns the data levels sampled on each rising clock edge since the last latch.
func (s *Sim) Bits() []gpio.Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gpio.Level(nil), s.bits...)
}

// Transcript returns every line write since the last Reset.
func (s *Sim) Transcript() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.transcript...)
}

// Reset clears the transcript.  The register contents are left alone, just like a real chip
// whose MR pin is tied high.
func (s *Sim) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = nil
}

// Pin is one input line of a Sim.  It implements gpio.PinOut.
type Pin struct {
	sim  *Sim
	line Line
}

// Halt implements conn.Resource.
func (p *Pin) Halt() error {
	return nil
}

// Name returns the name of the register input.
func (p *Pin) Name() string {
	return "hc595." + p.line.String()
}

// Number returns the 74HC595 DIP pin number of the input.
func (p *Pin) Number() int {
	switch p.line {
	case Data:
		return 14
	case Clock:
		return 11
	case Latch:
		return 12
	}
	return -1
}

// Deprecated: returns "Out"
func (p *Pin) Function() string {
	return "Out"
}

// Out drives the line to l.
func (p *Pin) Out(l gpio.Level) error {
	p.sim.write(p.line, l)
	return nil
}

// Not implemented.
func (p *Pin) PWM(duty gpio.Duty, f physic.Frequency) error {
	return ErrNotImplemented
}

func (p *Pin) String() string {
	return p.Name()
}
