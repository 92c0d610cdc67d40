package main

import (
	"context"
	"log"

	"github.com/banshee-data/tac3d.report/internal/tactile/l3frames"
)

type frameSource interface {
	GetFrame() (*l3frames.Snapshot, bool)
}

type frameObserver interface {
	Observe(snap *l3frames.Snapshot)
}

type frameRecorder interface {
	RecordFrame(snap *l3frames.Snapshot) error
}

// frameSink moves queued frames off the receive goroutine into the force
// history and, when configured, the recorder.
type frameSink struct {
	source   frameSource
	history  frameObserver
	recorder frameRecorder
	notify   chan struct{}
}

func newFrameSink(history frameObserver, recorder frameRecorder) *frameSink {
	return &frameSink{
		history:  history,
		recorder: recorder,
		notify:   make(chan struct{}, 1),
	}
}

// Notify is the session callback. It never blocks the receive loop.
func (s *frameSink) Notify(*l3frames.Frame) {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Run drains the source on every notification until ctx is cancelled.
func (s *frameSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case <-s.notify:
			s.drain()
		}
	}
}

func (s *frameSink) drain() int {
	n := 0
	for {
		snap, ok := s.source.GetFrame()
		if !ok {
			return n
		}
		n++
		if s.history != nil {
			s.history.Observe(snap)
		}
		if s.recorder != nil {
			if err := s.recorder.RecordFrame(snap); err != nil {
				log.Printf("Failed to record frame %d from %s: %v", snap.FrameIndex, snap.SensorID, err)
			}
		}
	}
}
