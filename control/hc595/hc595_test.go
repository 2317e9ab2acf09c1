package hc595

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/gpio"
)

// shift clocks b into the register LSB first and latches it.
func shift(s *Sim, b byte) {
	data, clock, latch := s.DataPin(), s.ClockPin(), s.LatchPin()
	for i := 0; i < 8; i++ {
		clock.Out(gpio.Low)
		data.Out(b&(1<<uint(i)) != 0)
		clock.Out(gpio.High)
	}
	latch.Out(gpio.High)
	latch.Out(gpio.Low)
}

func TestShiftAndLatch(t *testing.T) {
	for _, b := range []byte{0x00, 0x01, 0x80, 0x97, 0x22, 0xff, 0xc5} {
		s := new(Sim)
		shift(s, b)
		if got, want := s.Outputs(), b; got != want {
			t.Errorf("outputs after shifting %#04x:\n  got: %#04x\n want: %#04x", b, got, want)
		}
		for i := 0; i < 8; i++ {
			if got, want := s.Q(i), gpio.Level(b&(1<<uint(7-i)) != 0); got != want {
				t.Errorf("shifting %#04x: Q%d:\n  got: %v\n want: %v", b, i, got, want)
			}
		}
	}
}

func TestOutputsOnlyChangeOnLatch(t *testing.T) {
	s := new(Sim)
	shift(s, 0x97)
	data, clock, latch := s.DataPin(), s.ClockPin(), s.LatchPin()
	for i := 0; i < 8; i++ {
		clock.Out(gpio.Low)
		data.Out(gpio.Low)
		clock.Out(gpio.High)
		if got, want := s.Outputs(), byte(0x97); got != want {
			t.Fatalf("outputs changed mid-shift after %d bits:\n  got: %#04x\n want: %#04x", i+1, got, want)
		}
	}
	if got, want := len(s.Bits()), 8; got != want {
		t.Errorf("bits pending before latch:\n  got: %v\n want: %v", got, want)
	}
	latch.Out(gpio.High)
	if got, want := s.Outputs(), byte(0x00); got != want {
		t.Errorf("outputs after latch:\n  got: %#04x\n want: %#04x", got, want)
	}
	if got := s.Bits(); len(got) != 0 {
		t.Errorf("bits pending after latch: %v", got)
	}
}

func TestClockOnlyShiftsOnRisingEdge(t *testing.T) {
	s := new(Sim)
	clock, data := s.ClockPin(), s.DataPin()
	data.Out(gpio.High)
	clock.Out(gpio.High)
	clock.Out(gpio.High) // no edge
	clock.Out(gpio.Low)
	clock.Out(gpio.Low)
	if got, want := len(s.Bits()), 1; got != want {
		t.Errorf("bits sampled:\n  got: %v\n want: %v", got, want)
	}
}

func TestTranscript(t *testing.T) {
	s := new(Sim)
	shift(s, 0x02)
	var want []Event
	for i := 0; i < 8; i++ {
		want = append(want,
			Event{Line: Clock, Level: gpio.Low},
			Event{Line: Data, Level: i == 1},
			Event{Line: Clock, Level: gpio.High},
		)
	}
	want = append(want, Event{Line: Latch, Level: gpio.High}, Event{Line: Latch, Level: gpio.Low})
	if diff := cmp.Diff(want, s.Transcript()); diff != "" {
		t.Errorf("transcript (-want +got):\n%s", diff)
	}
	s.Reset()
	if got := s.Transcript(); len(got) != 0 {
		t.Errorf("transcript after reset: %v", got)
	}
	if got, want := s.Outputs(), byte(0x02); got != want {
		t.Errorf("outputs after reset:\n  got: %#04x\n want: %#04x", got, want)
	}
}

func TestPin(t *testing.T) {
	s := new(Sim)
	p := s.LatchPin()
	if got, want := p.String(), "hc595.STCP"; got != want {
		t.Errorf("name:\n  got: %v\n want: %v", got, want)
	}
	if got, want := p.Number(), 12; got != want {
		t.Errorf("number:\n  got: %v\n want: %v", got, want)
	}
	if err := p.PWM(gpio.DutyHalf, 0); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("pwm: got %v, want ErrNotImplemented", err)
	}
}
