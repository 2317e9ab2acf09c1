package drift

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/facebookincubator/ntp/protocol/chrony"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stratumGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reference_stratum",
		Help: "stratum of the host clock according to chronyd",
	})

	correctionGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reference_correction_seconds",
		Help: "current correction chronyd is applying to the host clock",
	})
)

// chronyd's leap status when it has no idea what time it is.
const leapNotSynchronised = 3

// Chrony asks chronyd whether the host clock is synchronized.
type Chrony struct {
	Addr    string        // Usually localhost:323.
	Timeout time.Duration // Zero means one second.
}

func synchronized(t *chrony.Tracking) bool {
	return t.LeapStatus != leapNotSynchronised && t.Stratum > 0 && t.Stratum < 16
}

// Synchronized implements Reference.
func (c *Chrony) Synchronized(ctx context.Context) (bool, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	conn, err := net.DialTimeout("udp", c.Addr, timeout)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(deadline); err != nil {
		return false, fmt.Errorf("set deadline: %w", err)
	}

	client := chrony.Client{Sequence: 1, Connection: conn}
	res, err := client.Communicate(chrony.NewTrackingPacket())
	if err != nil {
		return false, fmt.Errorf("get tracking info: communicate: %w", err)
	}
	tracking, ok := res.(*chrony.ReplyTracking)
	if !ok {
		return false, fmt.Errorf("get tracking info: unexpected reply %T", res)
	}
	stratumGauge.Set(float64(tracking.Stratum))
	correctionGauge.Set(tracking.CurrentCorrection)
	return synchronized(&tracking.Tracking), nil
}
