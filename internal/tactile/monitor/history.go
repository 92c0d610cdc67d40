package monitor

import (
	"sort"
	"sync"

	"github.com/banshee-data/tac3d.report/internal/tactile/l3frames"
)

// DefaultHistorySize is the number of samples kept per sensor.
const DefaultHistorySize = 600

// ForceSample is the resultant force of one delivered frame.
type ForceSample struct {
	FrameIndex       uint32     `json:"frame_index"`
	ReceiveTimestamp float64    `json:"recv_timestamp"`
	Force            [3]float64 `json:"force"`
	Magnitude        float64    `json:"magnitude"`
}

// ForceHistory keeps the most recent resultant-force samples of each sensor.
// Observe is called from the receive goroutine; readers may be HTTP handlers.
type ForceHistory struct {
	mu     sync.Mutex
	size   int
	series map[string][]ForceSample
}

// NewForceHistory keeps up to size samples per sensor. A non-positive size
// selects DefaultHistorySize.
func NewForceHistory(size int) *ForceHistory {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &ForceHistory{size: size, series: make(map[string][]ForceSample)}
}

// Observe appends the frame's resultant force. Frames without one are ignored.
func (h *ForceHistory) Observe(snap *l3frames.Snapshot) {
	if snap == nil {
		return
	}
	f, ok := snap.Vector3(l3frames.FieldResultantForce)
	if !ok {
		return
	}
	s := ForceSample{
		FrameIndex:       snap.FrameIndex,
		ReceiveTimestamp: snap.ReceiveTimestamp,
		Force:            f,
		Magnitude:        l3frames.Magnitude(f),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	buf := h.series[snap.SensorID]
	if len(buf) == h.size {
		copy(buf, buf[1:])
		buf[len(buf)-1] = s
	} else {
		buf = append(buf, s)
	}
	h.series[snap.SensorID] = buf
}

// Samples returns a copy of the sensor's samples, oldest first.
func (h *ForceHistory) Samples(sensorID string) []ForceSample {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ForceSample(nil), h.series[sensorID]...)
}

// Sensors lists the sensors with at least one sample.
func (h *ForceHistory) Sensors() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.series))
	for sn := range h.series {
		out = append(out, sn)
	}
	sort.Strings(out)
	return out
}
