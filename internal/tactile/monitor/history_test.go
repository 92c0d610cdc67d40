package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tac3d.report/internal/tactile/l3frames"
)

func TestForceHistory_KeepsMostRecent(t *testing.T) {
	h := NewForceHistory(3)
	for i := uint32(1); i <= 5; i++ {
		h.Observe(forceSnapshot("A1-0001", i, float64(i), [3]float64{float64(i), 0, 0}))
	}

	got := h.Samples("A1-0001")
	require.Len(t, got, 3)
	for i, want := range []uint32{3, 4, 5} {
		assert.Equal(t, want, got[i].FrameIndex)
		assert.InDelta(t, float64(want), got[i].Magnitude, 1e-12)
	}
}

func TestForceHistory_IgnoresFramesWithoutForce(t *testing.T) {
	h := NewForceHistory(0)
	assert.Equal(t, DefaultHistorySize, h.size)

	h.Observe(nil)
	h.Observe(&l3frames.Snapshot{Metadata: l3frames.Metadata{SensorID: "A1-0001"}})
	assert.Empty(t, h.Samples("A1-0001"))
	assert.Empty(t, h.Sensors())
}

func TestForceHistory_SamplesAreCopies(t *testing.T) {
	h := NewForceHistory(4)
	h.Observe(forceSnapshot("B1-0002", 7, 0.5, [3]float64{0, 1, 0}))
	h.Observe(forceSnapshot("A1-0001", 1, 0.5, [3]float64{0, 0, 2}))

	s := h.Samples("B1-0002")
	s[0].FrameIndex = 99
	assert.Equal(t, uint32(7), h.Samples("B1-0002")[0].FrameIndex)
	assert.Equal(t, []string{"A1-0001", "B1-0002"}, h.Sensors())
}
