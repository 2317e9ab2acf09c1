package main

import (
	"context"
	"testing"
	"time"

	"github.com/jrockway/tiny-clock/control/display"
	"github.com/jrockway/tiny-clock/control/drift"
	"github.com/jrockway/tiny-clock/control/timekeeper"
	"periph.io/x/conn/v3/gpio"
)

func TestParseBrightness(t *testing.T) {
	testData := []struct {
		in      string
		want    gpio.Duty
		wantErr bool
	}{
		{"", display.DefaultBrightness, false},
		{"100%", gpio.DutyMax, false},
		{"0", 0, false},
		{"1234", 1234, false},
		{"150%", 0, true},
		{"-1", 0, true},
		{"dim", 0, true},
	}
	for _, test := range testData {
		t.Run(test.in, func(t *testing.T) {
			got, err := parseBrightness(test.in)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("parse error: %v, want error? %v", err, test.wantErr)
			}
			if test.wantErr {
				return
			}
			if want := test.want; got != want {
				t.Errorf("brightness:\n  got: %v\n want: %v", got, want)
			}
		})
	}
}

func TestRunMonitor(t *testing.T) {
	if err := runMonitor(context.Background(), &drift.Monitor{}); err == nil {
		t.Error("expected error running a monitor without a clock")
	}

	tk, err := timekeeper.New(50, timekeeper.Time{Hours: 12})
	if err != nil {
		t.Fatal(err)
	}
	ctx, c := context.WithCancel(context.Background())
	errch := make(chan error)
	go func() {
		errch <- runMonitor(ctx, &drift.Monitor{Clock: tk, Interval: 10 * time.Millisecond})
		close(errch)
	}()
	time.Sleep(20 * time.Millisecond)
	c()
	select {
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for cancel")
	case err := <-errch:
		if err != nil {
			t.Errorf("cancellation should not be reported: %v", err)
		}
	}
}
