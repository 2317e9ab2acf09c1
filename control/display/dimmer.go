package display

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

const (
	// DefaultBrightness is 20/256 of full, which is plenty for a bedroom.
	DefaultBrightness = gpio.DutyMax * 20 / 256

	// DefaultPWMFrequency is fast enough that nobody sees flicker, even out of the corner of
	// their eye.
	DefaultPWMFrequency = 4687500 * physic.MilliHertz
)

// Dimmer runs a fixed-duty PWM on one pin to dim every LED at once.  It has nothing to do with
// what the LEDs show.
type Dimmer struct {
	Pin        gpio.PinOut
	Brightness gpio.Duty        // Fraction of the time the LEDs are on.
	Frequency  physic.Frequency // Zero means DefaultPWMFrequency.
	ActiveLow  bool             // True when Pin drives the 74HC595's OE input, which is active low.
}

func (d *Dimmer) pinDuty() (gpio.Duty, error) {
	if d.Brightness < 0 || d.Brightness > gpio.DutyMax {
		return 0, fmt.Errorf("brightness %v out of range", d.Brightness)
	}
	if d.ActiveLow {
		return gpio.DutyMax - d.Brightness, nil
	}
	return d.Brightness, nil
}

// Apply starts the PWM.
func (d *Dimmer) Apply() error {
	duty, err := d.pinDuty()
	if err != nil {
		return err
	}
	f := d.Frequency
	if f == 0 {
		f = DefaultPWMFrequency
	}
	if err := d.Pin.PWM(duty, f); err != nil {
		return fmt.Errorf("start pwm on %s: %w", d.Pin, err)
	}
	return nil
}

// Off stops the PWM and leaves the LEDs disabled.
func (d *Dimmer) Off() error {
	if err := d.Pin.Out(gpio.Level(d.ActiveLow)); err != nil {
		return fmt.Errorf("disable outputs on %s: %w", d.Pin, err)
	}
	return nil
}
