package health

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/breeze-rmm/deskdup/internal/duplication"
)

func TestOverallOnEmptyMonitorIsUnknown(t *testing.T) {
	m := NewMonitor()
	if got := m.Overall(); got != Unknown {
		t.Fatalf("Overall() = %q, want %q", got, Unknown)
	}
	if r := m.Report(); r.Status != Unknown || len(r.Components) != 0 {
		t.Fatalf("Report() = %+v, want unknown with no components", r)
	}
}

func TestOverallReturnsWorstStatus(t *testing.T) {
	m := NewMonitor()
	m.Update("a", Healthy, "")
	m.Update("b", Degraded, "slow")
	m.Update("c", Healthy, "")
	if got := m.Overall(); got != Degraded {
		t.Fatalf("Overall() = %q, want %q", got, Degraded)
	}

	m.Update("d", Unhealthy, "down")
	if got := m.Overall(); got != Unhealthy {
		t.Fatalf("Overall() = %q, want %q", got, Unhealthy)
	}
}

func TestUpdateReportsTransitionsOnly(t *testing.T) {
	m := NewMonitor()
	base := time.Unix(1000, 0)
	tick := base
	m.now = func() time.Time { return tick }

	if !m.Update("capture", Healthy, "") {
		t.Fatal("first update should be a transition")
	}
	tick = base.Add(time.Second)
	if m.Update("capture", Healthy, "") {
		t.Fatal("same status should not be a transition")
	}
	c, _ := m.Get("capture")
	if !c.Since.Equal(base) || !c.UpdatedAt.Equal(tick) {
		t.Fatalf("since=%v updated=%v, want since=%v updated=%v", c.Since, c.UpdatedAt, base, tick)
	}

	tick = base.Add(2 * time.Second)
	if !m.Update("capture", Degraded, "access lost") {
		t.Fatal("status change should be a transition")
	}
	c, _ = m.Get("capture")
	if !c.Since.Equal(tick) || c.Message != "access lost" {
		t.Fatalf("check = %+v", c)
	}
}

func TestObserveCapture(t *testing.T) {
	m := NewMonitor()

	m.ObserveCapture("capture", duplication.CaptureResult{Status: duplication.StatusSuccess})
	if c, _ := m.Get("capture"); c.Status != Healthy {
		t.Fatalf("after success: %q", c.Status)
	}

	m.ObserveCapture("capture", duplication.CaptureResult{Status: duplication.StatusTimeout})
	if c, _ := m.Get("capture"); c.Status != Healthy {
		t.Fatalf("timeout changed status to %q", c.Status)
	}

	m.ObserveCapture("capture", duplication.CaptureResult{Status: duplication.StatusError, Err: errors.New("map failed")})
	if c, _ := m.Get("capture"); c.Status != Degraded || c.Message != "map failed" {
		t.Fatalf("after error: %+v", c)
	}

	m.ObserveCapture("capture", duplication.CaptureResult{
		Status:   duplication.StatusAccessLost,
		Err:      errors.New("reinit failed"),
		Terminal: true,
	})
	if c, _ := m.Get("capture"); c.Status != Unhealthy {
		t.Fatalf("after terminal: %q", c.Status)
	}
}

func TestReportIsSortedByName(t *testing.T) {
	m := NewMonitor()
	m.Update("stream", Healthy, "")
	m.Update("capture", Degraded, "")

	r := m.Report()
	if r.Status != Degraded {
		t.Fatalf("status = %q", r.Status)
	}
	if len(r.Components) != 2 || r.Components[0].Name != "capture" || r.Components[1].Name != "stream" {
		t.Fatalf("components = %+v", r.Components)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if j%2 == 0 {
					m.Update("capture", Healthy, "")
				} else {
					m.Update("capture", Degraded, "")
				}
				_ = m.Report()
			}
		}(i)
	}
	wg.Wait()
	if _, ok := m.Get("capture"); !ok {
		t.Fatal("capture check missing")
	}
}
