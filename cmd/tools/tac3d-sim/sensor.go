package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/tac3d.report/internal/tactile/l3frames"
)

const (
	markerPitch   = 1.0  // mm between neighbouring markers
	pressPeriod   = 2.0  // seconds per press cycle
	pressDepth    = 0.8  // mm peak indentation
	pressSigma    = 3.0  // mm radius of the contact patch
	markerStiff   = 0.05 // N per mm of marker displacement
	momentArmZ    = 2.0  // mm from the gel surface to the moment reference
	progressScale = l3frames.ReadyProgress
)

// simSensor produces the frames of one synthetic sensor: a flat marker mesh
// pressed periodically by a round indenter at its centre.
type simSensor struct {
	sn     string
	model  l3frames.Model
	order  binary.ByteOrder
	warmup int

	mu       sync.Mutex
	index    uint32
	rest     *mat.Dense // marker positions at rest, markers x 3
	baseline *mat.Dense // displacement removed by calibration
	last     *mat.Dense // most recent raw displacement
}

func newSimSensor(sn string, order binary.ByteOrder, warmup int) *simSensor {
	model := l3frames.ModelFromSN(sn)
	n := model.Markers()
	rest := mat.NewDense(n, 3, nil)
	for r := 0; r < model.Rows; r++ {
		for c := 0; c < model.Cols; c++ {
			i := r*model.Cols + c
			rest.Set(i, 0, (float64(c)-float64(model.Cols-1)/2)*markerPitch)
			rest.Set(i, 1, (float64(r)-float64(model.Rows-1)/2)*markerPitch)
		}
	}
	return &simSensor{
		sn:       sn,
		model:    model,
		order:    order,
		warmup:   warmup,
		rest:     rest,
		baseline: mat.NewDense(n, 3, nil),
		last:     mat.NewDense(n, 3, nil),
	}
}

// Calibrate makes the current indentation the new zero.
func (s *simSensor) Calibrate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseline.Copy(s.last)
}

// progress ramps InitializeProgress from 0 to 100 over the warm-up frames.
func (s *simSensor) progress(index uint32) float64 {
	if s.warmup <= 0 || int(index) >= s.warmup {
		return progressScale
	}
	return progressScale * float64(index) / float64(s.warmup)
}

// NextFrame builds the header and data payloads of the next frame at send
// time t seconds.
func (s *simSensor) NextFrame(t float64) (header, data []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.model.Markers()
	depth := pressDepth * 0.5 * (1 - math.Cos(2*math.Pi*t/pressPeriod))

	for i := 0; i < n; i++ {
		x, y := s.rest.At(i, 0), s.rest.At(i, 1)
		dz := -depth * math.Exp(-(x*x+y*y)/(pressSigma*pressSigma))
		s.last.Set(i, 0, 0)
		s.last.Set(i, 1, 0)
		s.last.Set(i, 2, dz)
	}

	disp := mat.NewDense(n, 3, nil)
	disp.Sub(s.last, s.baseline)

	pos := mat.NewDense(n, 3, nil)
	pos.Add(s.rest, disp)

	forces := mat.NewDense(n, 3, nil)
	forces.Scale(-markerStiff, disp)

	var fx, fy, fz, mx, my, mz float64
	for i := 0; i < n; i++ {
		f := [3]float64{forces.At(i, 0), forces.At(i, 1), forces.At(i, 2)}
		x, y := pos.At(i, 0), pos.At(i, 1)
		fx, fy, fz = fx+f[0], fy+f[1], fz+f[2]
		mx += y*f[2] - momentArmZ*f[1]
		my += momentArmZ*f[0] - x*f[2]
		mz += x*f[1] - y*f[0]
	}

	index := s.index
	s.index++

	h := l3frames.Header{SensorID: s.sn, FrameIndex: index, SendTimestamp: t}
	add := func(name string, m *mat.Dense) {
		r, c := m.Dims()
		start := len(data)
		data = l3frames.AppendFloat64s(data, s.order, m.RawMatrix().Data...)
		h.Fields = append(h.Fields, l3frames.FieldDescriptor{
			Name: name, Type: l3frames.FieldMatrix, Offset: start, Length: len(data) - start, Rows: r, Cols: c,
		})
	}
	add(l3frames.FieldPositions, pos)
	add(l3frames.FieldDisplacements, disp)
	add(l3frames.FieldForces, forces)
	add(l3frames.FieldResultantForce, mat.NewDense(1, 3, []float64{fx, fy, fz}))
	add(l3frames.FieldResultantMoment, mat.NewDense(1, 3, []float64{mx, my, mz}))

	start := len(data)
	data = l3frames.AppendFloat64s(data, s.order, s.progress(index))
	h.Fields = append(h.Fields, l3frames.FieldDescriptor{
		Name: l3frames.FieldInitializeProgress, Type: l3frames.FieldFloat64, Offset: start, Length: 8,
	})

	header, err = l3frames.EncodeHeader(h)
	if err != nil {
		return nil, nil, fmt.Errorf("frame %d: %w", index, err)
	}
	return header, data, nil
}
