package drift

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/facebookincubator/ntp/protocol/chrony"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeCounter struct {
	sync.Mutex
	pulses uint64
	freq   int
}

func (c *fakeCounter) Pulses() uint64 {
	c.Lock()
	defer c.Unlock()
	return c.pulses
}

func (c *fakeCounter) Frequency() int { return c.freq }

func TestPulseDuration(t *testing.T) {
	testData := []struct {
		pulses uint64
		freq   int
		want   time.Duration
	}{
		{0, 50, 0},
		{1, 50, 20 * time.Millisecond},
		{50, 50, time.Second},
		{61, 60, time.Second + time.Second/60},
		{60 * 86400 * 365 * 10, 60, 10 * 365 * 24 * time.Hour},
	}
	for _, test := range testData {
		if got, want := pulseDuration(test.pulses, test.freq), test.want; got != want {
			t.Errorf("pulseDuration(%d, %d):\n  got: %v\n want: %v", test.pulses, test.freq, got, want)
		}
	}
}

func TestSample(t *testing.T) {
	m := &Monitor{Clock: &fakeCounter{freq: 50}}
	start := time.Date(2020, 3, 15, 12, 0, 0, 0, time.UTC)

	first := m.Sample(start, 1000)
	if first.Frequency != 0 || first.Drift != 0 {
		t.Errorf("first sample should be empty: %+v", first)
	}

	// The grid ran at 50.1Hz for 100 seconds.
	s := m.Sample(start.Add(100*time.Second), 1000+5010)
	if got, want := s.Frequency, 50.1; math.Abs(got-want) > 1e-9 {
		t.Errorf("frequency:\n  got: %v\n want: %v", got, want)
	}
	if got, want := s.Drift, 200*time.Millisecond; got != want {
		t.Errorf("drift:\n  got: %v\n want: %v", got, want)
	}

	// Then slowed down to 49.9Hz for 200 seconds; drift is measured from the first sample.
	s = m.Sample(start.Add(300*time.Second), 1000+5010+9980)
	if got, want := s.Frequency, 49.9; math.Abs(got-want) > 1e-9 {
		t.Errorf("frequency:\n  got: %v\n want: %v", got, want)
	}
	if got, want := s.Drift, -200*time.Millisecond; got != want {
		t.Errorf("drift:\n  got: %v\n want: %v", got, want)
	}
}

type fakeReference struct {
	ok  bool
	err error
}

func (r *fakeReference) Synchronized(ctx context.Context) (bool, error) {
	return r.ok, r.err
}

func TestDriftOnlyReportedWhenReferenceIsTrusted(t *testing.T) {
	testData := []struct {
		name string
		ref  Reference
		want bool
	}{
		{"no reference", nil, true},
		{"synchronized", &fakeReference{ok: true}, true},
		{"unsynchronized", &fakeReference{ok: false}, false},
		{"error", &fakeReference{err: errors.New("connection refused")}, false},
	}
	for _, test := range testData {
		t.Run(test.name, func(t *testing.T) {
			c := &fakeCounter{freq: 60}
			m := &Monitor{Clock: c, Reference: test.ref}
			l := &nopLog{}
			driftGauge.Set(12345)
			m.sample(context.Background(), l)
			c.pulses = 600
			m.sample(context.Background(), l)
			changed := testutil.ToFloat64(driftGauge) != 12345
			if got, want := changed, test.want; got != want {
				t.Errorf("drift gauge updated:\n  got: %v\n want: %v", got, want)
			}
		})
	}
}

type nopLog struct{}

func (*nopLog) Printf(format string, a ...interface{}) {}
func (*nopLog) Errorf(format string, a ...interface{}) {}
func (*nopLog) Finish() {}

func TestRun(t *testing.T) {
	ctx, c := context.WithCancel(context.Background())
	m := &Monitor{Clock: &fakeCounter{freq: 50}, Interval: 10 * time.Millisecond}
	errch := make(chan error)
	go func() {
		errch <- m.Run(ctx)
		close(errch)
	}()
	time.Sleep(50 * time.Millisecond)
	c()
	select {
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for cancel")
	case err := <-errch:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error after cancel: %v", err)
		}
	}
	if (&Monitor{}).Run(context.Background()) == nil {
		t.Error("expected error running without a clock")
	}
}

func TestSynchronized(t *testing.T) {
	testData := []struct {
		name     string
		tracking chrony.Tracking
		want     bool
	}{
		{"gps", chrony.Tracking{Stratum: 1, RefID: 0x47505300}, true},
		{"ntp", chrony.Tracking{Stratum: 3}, true},
		{"unsynchronised", chrony.Tracking{Stratum: 3, LeapStatus: leapNotSynchronised}, false},
		{"no source", chrony.Tracking{Stratum: 0}, false},
		{"stratum 16", chrony.Tracking{Stratum: 16}, false},
	}
	for _, test := range testData {
		t.Run(test.name, func(t *testing.T) {
			if got, want := synchronized(&test.tracking), test.want; got != want {
				t.Errorf("synchronized:\n  got: %v\n want: %v", got, want)
			}
		})
	}
}
