package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jrockway/tiny-clock/control/display"
	"github.com/jrockway/tiny-clock/control/drift"
	"github.com/jrockway/tiny-clock/control/hc595"
	"github.com/jrockway/tiny-clock/control/pulse"
	"github.com/jrockway/tiny-clock/control/timekeeper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var (
	bind          = flag.String("bind", ":8080", "address to bind for debug/metrics server")
	freq          = flag.Int("freq", 50, "mains frequency in Hz; 50 or 60")
	start         = flag.String("start", "12:00:00", "time to show at power on, H:MM:SS")
	pulsePin      = flag.String("pulse", "", "gpio pin that the zero-crossing detector is on")
	dataPin       = flag.String("data", "", "gpio pin connected to the 74HC595 DS input")
	clockPin      = flag.String("clock", "", "gpio pin connected to the 74HC595 SHCP input")
	latchPin      = flag.String("latch", "", "gpio pin connected to the 74HC595 STCP input")
	oePin         = flag.String("oe", "", "gpio pin connected to the 74HC595 OE input, for dimming; empty to run at full brightness")
	brightness    = flag.String("brightness", "", "fraction of the time the LEDs are lit when -oe is set, like 8% or a raw duty; empty for the built-in default")
	simulate      = flag.Bool("simulate", false, "run without hardware, generating pulses from the host clock")
	speedup       = flag.Int("speedup", 1, "with -simulate, run the clock this many times faster than real time")
	chronyAddr    = flag.String("chrony", "", "chronyd command address, like localhost:323; only report drift while chronyd is synchronized")
	driftInterval = flag.Duration("drift-interval", drift.DefaultInterval, "how often to compare the mains clock to the host clock")
)

func openPin(flagName, name string) (gpio.PinIO, error) {
	if name == "" {
		return nil, fmt.Errorf("-%s is required without -simulate", flagName)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("-%s: no gpio pin named %q", flagName, name)
	}
	return p, nil
}

func parseBrightness(s string) (gpio.Duty, error) {
	if s == "" {
		return display.DefaultBrightness, nil
	}
	return gpio.ParseDuty(s)
}

// runMonitor runs the drift monitor until ctx is done.  Cancellation is not an error.
func runMonitor(ctx context.Context, m *drift.Monitor) error {
	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type hardware struct {
	register *display.ShiftRegister
	dimmer   *display.Dimmer // nil if there is no OE pin.
	source   pulse.Source
}

func setupHardware() (*hardware, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph.io: %w", err)
	}
	data, err := openPin("data", *dataPin)
	if err != nil {
		return nil, err
	}
	clk, err := openPin("clock", *clockPin)
	if err != nil {
		return nil, err
	}
	latch, err := openPin("latch", *latchPin)
	if err != nil {
		return nil, err
	}
	in, err := openPin("pulse", *pulsePin)
	if err != nil {
		return nil, err
	}
	h := &hardware{register: &display.ShiftRegister{Data: data, Clock: clk, Latch: latch}}
	if h.source, err = pulse.NewEdge(in, pulse.DefaultTimeout); err != nil {
		return nil, fmt.Errorf("setup pulse input: %w", err)
	}
	if *oePin != "" {
		oe, err := openPin("oe", *oePin)
		if err != nil {
			return nil, err
		}
		duty, err := gpio.ParseDuty(*brightness)
		if err != nil {
			return nil, fmt.Errorf("parse -brightness: %w", err)
		}
		h.dimmer = &display.Dimmer{Pin: oe, Brightness: duty, ActiveLow: true}
	}
	return h, nil
}

func setupSimulation() *hardware {
	sim := new(hc595.Sim)
	return &hardware{
		register: &display.ShiftRegister{Data: sim.DataPin(), Clock: sim.ClockPin(), Latch: sim.LatchPin()},
		source:   &pulse.Generator{Frequency: *freq, Speedup: *speedup},
	}
}

func main() {
	flag.Parse()
	if *freq != 50 && *freq != 60 {
		log.Fatalf("-freq must be 50 or 60, not %d", *freq)
	}
	startTime, err := timekeeper.ParseTime(*start)
	if err != nil {
		log.Fatalf("-start: %v", err)
	}
	tk, err := timekeeper.New(*freq, startTime)
	if err != nil {
		log.Fatalf("init timekeeper: %v", err)
	}

	var hw *hardware
	if *simulate {
		log.Printf("simulating hardware at %dx speed", *speedup)
		hw = setupSimulation()
	} else {
		hw, err = setupHardware()
		if err != nil {
			log.Fatalf("init hardware: %v", err)
		}
	}
	if hw.dimmer != nil {
		if err := hw.dimmer.Apply(); err != nil {
			log.Fatalf("init dimmer: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	http.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/display.png", http.StatusFound)
	})
	http.Handle("/display.png", &display.Preview{Source: hw.register})
	http.Handle("/metrics", promhttp.Handler())

	httpDoneCh := make(chan error)
	httpServer := http.Server{Addr: *bind}
	go func() {
		log.Printf("http server listening on %s", httpServer.Addr)
		err := httpServer.ListenAndServe()
		select {
		case httpDoneCh <- err:
		case <-ctx.Done():
		}
		close(httpDoneCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// Two seconds of slack, so a slow display refresh never costs a pulse.
	pulses := make(chan time.Time, 2*(*freq))
	sourceDoneCh := make(chan error)
	go func() {
		err := hw.source.Run(ctx, pulses)
		select {
		case sourceDoneCh <- err:
		case <-ctx.Done():
		}
		close(sourceDoneCh)
	}()

	loopDoneCh := make(chan error)
	go func() {
		log.Printf("clock starting at %s", startTime)
		err := tk.Run(ctx, pulses, hw.register)
		select {
		case loopDoneCh <- err:
		case <-ctx.Done():
		}
		close(loopDoneCh)
	}()

	monitor := &drift.Monitor{Clock: tk, Interval: *driftInterval}
	if *chronyAddr != "" {
		monitor.Reference = &drift.Chrony{Addr: *chronyAddr}
	}
	go func() {
		// The clock keeps time without the monitor, so losing it is only worth a log line.
		if err := runMonitor(ctx, monitor); err != nil {
			log.Printf("drift monitor died: %v", err)
		}
	}()

	httpAlive := true
	exitCode := 1
	select {
	case err := <-httpDoneCh:
		log.Printf("http server died: %v", err)
		httpAlive = false
	case err := <-sourceDoneCh:
		log.Printf("pulse source died: %v", err)
	case err := <-loopDoneCh:
		log.Printf("clock loop died: %v", err)
	case <-sigCh:
		log.Printf("interrupt")
		exitCode = 0
	}
	signal.Stop(sigCh)
	cancel()
	<-loopDoneCh

	// Blank the LEDs so someone looking at the clock can tell that it isn't keeping time.
	if err := hw.register.Blank(); err != nil {
		log.Printf("blank: %v", err)
	}
	if hw.dimmer != nil {
		if err := hw.dimmer.Off(); err != nil {
			log.Printf("dimmer: %v", err)
		}
	}
	if httpAlive {
		tctx, c := context.WithTimeout(context.Background(), time.Second)
		httpServer.Shutdown(tctx)
		c()
	}
	os.Exit(exitCode)
}
