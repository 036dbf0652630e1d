package duplication

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// StreamMetrics tracks counters for a capture session.
type StreamMetrics struct {
	mu sync.RWMutex

	FramesCaptured  uint64
	FramesDelivered uint64
	FramesDropped   uint64
	Timeouts        uint64
	Errors          uint64
	AccessLost      uint64
	Reinits         uint64

	LastAcquireTime time.Duration
	QueueDepth      int
	PeakQueueDepth  int

	startTime time.Time
}

// NewStreamMetrics returns zeroed metrics starting now.
func NewStreamMetrics() *StreamMetrics {
	return &StreamMetrics{startTime: time.Now()}
}

func (m *StreamMetrics) RecordAcquire(d time.Duration, status Status) {
	m.mu.Lock()
	m.LastAcquireTime = d
	switch status {
	case StatusSuccess:
		m.FramesCaptured++
	case StatusTimeout:
		m.Timeouts++
	case StatusAccessLost:
		m.AccessLost++
	case StatusError:
		m.Errors++
	}
	m.mu.Unlock()
}

func (m *StreamMetrics) RecordReinit() {
	m.mu.Lock()
	m.Reinits++
	m.mu.Unlock()
}

func (m *StreamMetrics) RecordDelivery() {
	m.mu.Lock()
	m.FramesDelivered++
	m.mu.Unlock()
}

func (m *StreamMetrics) RecordDrop() {
	m.mu.Lock()
	m.FramesDropped++
	m.mu.Unlock()
}

func (m *StreamMetrics) SetQueueDepth(n int) {
	m.mu.Lock()
	m.QueueDepth = n
	if n > m.PeakQueueDepth {
		m.PeakQueueDepth = n
	}
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of the metrics.
type MetricsSnapshot struct {
	FramesCaptured  uint64        `json:"framesCaptured"`
	FramesDelivered uint64        `json:"framesDelivered"`
	FramesDropped   uint64        `json:"framesDropped"`
	Timeouts        uint64        `json:"timeouts"`
	Errors          uint64        `json:"errors"`
	AccessLost      uint64        `json:"accessLost"`
	Reinits         uint64        `json:"reinits"`
	AcquireMs       float64       `json:"acquireMs"`
	QueueDepth      int           `json:"queueDepth"`
	PeakQueueDepth  int           `json:"peakQueueDepth"`
	CaptureFPS      float64       `json:"captureFps"`
	RSSBytes        uint64        `json:"rssBytes,omitempty"`
	Uptime          time.Duration `json:"uptime"`
}

func (m *StreamMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	uptime := time.Since(m.startTime)
	snap := MetricsSnapshot{
		FramesCaptured:  m.FramesCaptured,
		FramesDelivered: m.FramesDelivered,
		FramesDropped:   m.FramesDropped,
		Timeouts:        m.Timeouts,
		Errors:          m.Errors,
		AccessLost:      m.AccessLost,
		Reinits:         m.Reinits,
		AcquireMs:       float64(m.LastAcquireTime.Microseconds()) / 1000.0,
		QueueDepth:      m.QueueDepth,
		PeakQueueDepth:  m.PeakQueueDepth,
		Uptime:          uptime,
	}
	m.mu.RUnlock()

	if uptime.Seconds() > 0 {
		snap.CaptureFPS = float64(snap.FramesCaptured) / uptime.Seconds()
	}
	snap.RSSBytes = processRSS()
	return snap
}

// processRSS returns the resident set size of this process, or 0 when it
// cannot be read. Queue growth under PolicyQueue shows up here.
func processRSS() uint64 {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	mem, err := p.MemoryInfo()
	if err != nil || mem == nil {
		return 0
	}
	return mem.RSS
}
