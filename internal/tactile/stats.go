package tactile

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/tac3d.report/internal/monitoring"
)

// DropReason classifies why a datagram was discarded.
type DropReason int

const (
	DropShort         DropReason = iota // shorter than the sub-header
	DropOversize                        // declared frame exceeds the data buffer
	DropPoolExhausted                   // no free or reclaimable slot
	DropDuplicate                       // index already received for this serial
	DropBadIndex                        // index beyond the declared datagram count
	DropForward                         // forward queue full or write failed
	numDropReasons
)

var dropReasonNames = [numDropReasons]string{
	DropShort:         "short",
	DropOversize:      "oversize",
	DropPoolExhausted: "pool_exhausted",
	DropDuplicate:     "duplicate",
	DropBadIndex:      "bad_index",
	DropForward:       "forward",
}

func (r DropReason) String() string {
	if r < 0 || r >= numDropReasons {
		return fmt.Sprintf("DropReason(%d)", int(r))
	}
	return dropReasonNames[r]
}

type counters struct {
	datagrams     int64
	bytes         int64
	dropped       [numDropReasons]int64
	reclaimed     int64
	completed     int64
	notReady      int64
	delivered     int64
	decodeErrors  int64
	unknownFields int64
}

// DatagramStats tracks receive statistics with thread-safe operations.
// Interval counters are reset by LogStats; totals are kept for the lifetime
// of the process.
type DatagramStats struct {
	mu        sync.Mutex
	interval  counters
	total     counters
	lastReset time.Time
	started   time.Time
}

// NewDatagramStats creates a new DatagramStats instance
func NewDatagramStats() *DatagramStats {
	now := time.Now()
	return &DatagramStats{lastReset: now, started: now}
}

func (s *DatagramStats) update(f func(c *counters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.interval)
	f(&s.total)
}

// AddDatagram counts one received datagram of the given size.
func (s *DatagramStats) AddDatagram(bytes int) {
	s.update(func(c *counters) {
		c.datagrams++
		c.bytes += int64(bytes)
	})
}

// AddDropped counts one discarded datagram.
func (s *DatagramStats) AddDropped(reason DropReason) {
	if reason < 0 || reason >= numDropReasons {
		return
	}
	s.update(func(c *counters) { c.dropped[reason]++ })
}

// AddReclaimed counts a stalled slot reclaimed after the receive timeout.
func (s *DatagramStats) AddReclaimed() {
	s.update(func(c *counters) { c.reclaimed++ })
}

// AddFrameCompleted counts a frame whose every datagram arrived.
func (s *DatagramStats) AddFrameCompleted() {
	s.update(func(c *counters) { c.completed++ })
}

// AddFrameNotReady counts a decoded frame withheld by the readiness gate.
func (s *DatagramStats) AddFrameNotReady() {
	s.update(func(c *counters) { c.notReady++ })
}

// AddFrameDelivered counts a frame handed to the consumer.
func (s *DatagramStats) AddFrameDelivered() {
	s.update(func(c *counters) { c.delivered++ })
}

// AddDecodeError counts a header or field that could not be decoded.
func (s *DatagramStats) AddDecodeError() {
	s.update(func(c *counters) { c.decodeErrors++ })
}

// AddUnknownField counts a field skipped during decoding.
func (s *DatagramStats) AddUnknownField() {
	s.update(func(c *counters) { c.unknownFields++ })
}

// StatsSnapshot is a point-in-time copy of the cumulative counters.
type StatsSnapshot struct {
	Uptime          time.Duration    `json:"-"`
	UptimeSeconds   float64          `json:"uptime_seconds"`
	Datagrams       int64            `json:"datagrams"`
	Bytes           int64            `json:"bytes"`
	Dropped         map[string]int64 `json:"dropped"`
	SlotsReclaimed  int64            `json:"slots_reclaimed"`
	FramesCompleted int64            `json:"frames_completed"`
	FramesNotReady  int64            `json:"frames_not_ready"`
	FramesDelivered int64            `json:"frames_delivered"`
	DecodeErrors    int64            `json:"decode_errors"`
	UnknownFields   int64            `json:"unknown_fields"`
}

// DroppedTotal sums the drop counters across reasons.
func (s StatsSnapshot) DroppedTotal() int64 {
	var n int64
	for _, v := range s.Dropped {
		n += v
	}
	return n
}

func snapshotOf(c counters, uptime time.Duration) StatsSnapshot {
	dropped := make(map[string]int64, numDropReasons)
	for r := DropReason(0); r < numDropReasons; r++ {
		dropped[r.String()] = c.dropped[r]
	}
	return StatsSnapshot{
		Uptime:          uptime,
		UptimeSeconds:   uptime.Seconds(),
		Datagrams:       c.datagrams,
		Bytes:           c.bytes,
		Dropped:         dropped,
		SlotsReclaimed:  c.reclaimed,
		FramesCompleted: c.completed,
		FramesNotReady:  c.notReady,
		FramesDelivered: c.delivered,
		DecodeErrors:    c.decodeErrors,
		UnknownFields:   c.unknownFields,
	}
}

// Snapshot returns the cumulative counters since creation.
func (s *DatagramStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotOf(s.total, time.Since(s.started))
}

// GetAndReset returns the interval counters and resets them.
func (s *DatagramStats) GetAndReset() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	snap := snapshotOf(s.interval, now.Sub(s.lastReset))
	s.interval = counters{}
	s.lastReset = now
	return snap
}

// LogStats logs the interval rates and resets the interval counters.
func (s *DatagramStats) LogStats() {
	snap := s.GetAndReset()
	if snap.Datagrams == 0 && snap.DroppedTotal() == 0 {
		return
	}
	secs := snap.Uptime.Seconds()
	if secs <= 0 {
		secs = 1
	}

	logMsg := fmt.Sprintf("Tactile stats (/sec): %.2f MB, %.1f datagrams, %.1f frames",
		float64(snap.Bytes)/secs/(1024*1024), float64(snap.Datagrams)/secs, float64(snap.FramesDelivered)/secs)
	if dropped := snap.DroppedTotal(); dropped > 0 {
		logMsg += fmt.Sprintf(", %s dropped (pool %d, oversize %d, short %d, duplicate %d)",
			FormatWithCommas(dropped), snap.Dropped[DropPoolExhausted.String()], snap.Dropped[DropOversize.String()],
			snap.Dropped[DropShort.String()], snap.Dropped[DropDuplicate.String()])
	}
	if snap.SlotsReclaimed > 0 {
		logMsg += fmt.Sprintf(", %d stalled frames reclaimed", snap.SlotsReclaimed)
	}
	if snap.FramesNotReady > 0 {
		logMsg += fmt.Sprintf(", %d frames awaiting initialisation", snap.FramesNotReady)
	}
	monitoring.Logf("%s", logMsg)
}

// FormatWithCommas formats a number with thousands separators
func FormatWithCommas(n int64) string {
	if n < 0 {
		return "-" + FormatWithCommas(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}
