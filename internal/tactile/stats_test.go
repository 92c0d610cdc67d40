package tactile

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tac3d.report/internal/monitoring"
)

func TestDatagramStats_Counters(t *testing.T) {
	s := NewDatagramStats()
	s.AddDatagram(1400)
	s.AddDatagram(600)
	s.AddDropped(DropPoolExhausted)
	s.AddDropped(DropDuplicate)
	s.AddDropped(DropDuplicate)
	s.AddDropped(DropReason(99)) // ignored
	s.AddReclaimed()
	s.AddFrameCompleted()
	s.AddFrameNotReady()
	s.AddFrameDelivered()
	s.AddDecodeError()
	s.AddUnknownField()

	snap := s.Snapshot()
	assert.Equal(t, int64(2), snap.Datagrams)
	assert.Equal(t, int64(2000), snap.Bytes)
	assert.Equal(t, int64(1), snap.Dropped["pool_exhausted"])
	assert.Equal(t, int64(2), snap.Dropped["duplicate"])
	assert.Equal(t, int64(3), snap.DroppedTotal())
	assert.Equal(t, int64(1), snap.SlotsReclaimed)
	assert.Equal(t, int64(1), snap.FramesCompleted)
	assert.Equal(t, int64(1), snap.FramesNotReady)
	assert.Equal(t, int64(1), snap.FramesDelivered)
	assert.Equal(t, int64(1), snap.DecodeErrors)
	assert.Equal(t, int64(1), snap.UnknownFields)
}

func TestDatagramStats_GetAndResetKeepsTotals(t *testing.T) {
	s := NewDatagramStats()
	s.AddDatagram(10)

	interval := s.GetAndReset()
	assert.Equal(t, int64(1), interval.Datagrams)

	again := s.GetAndReset()
	assert.Equal(t, int64(0), again.Datagrams)

	assert.Equal(t, int64(1), s.Snapshot().Datagrams)
}

func TestDatagramStats_LogStats(t *testing.T) {
	original := monitoring.Logf
	defer func() { monitoring.Logf = original }()
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	s := NewDatagramStats()
	s.LogStats()
	assert.Empty(t, lines, "idle interval should not log")

	s.AddDatagram(1400)
	s.AddDropped(DropPoolExhausted)
	s.AddReclaimed()
	s.LogStats()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Tactile stats")
	assert.Contains(t, lines[0], "1 dropped (pool 1")
	assert.Contains(t, lines[0], "1 stalled frames reclaimed")
}

func TestDatagramStats_Concurrent(t *testing.T) {
	s := NewDatagramStats()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.AddDatagram(1)
				_ = s.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(800), s.Snapshot().Datagrams)
}

func TestDropReasonString(t *testing.T) {
	assert.Equal(t, "short", DropShort.String())
	assert.Equal(t, "forward", DropForward.String())
	assert.Equal(t, "DropReason(42)", DropReason(42).String())
}

func TestFormatWithCommas(t *testing.T) {
	assert.Equal(t, "999", FormatWithCommas(999))
	assert.Equal(t, "1,000", FormatWithCommas(1000))
	assert.Equal(t, "1,234,567", FormatWithCommas(1234567))
	assert.Equal(t, "-12,345", FormatWithCommas(-12345))
}
