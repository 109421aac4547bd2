// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/cane_logger/internal/imu"
	"github.com/relabs-tech/cane_logger/internal/timeutil"
)

// DefaultMotionInterval polls the accelerometer at 50 Hz.
const DefaultMotionInterval = 20 * time.Millisecond

// MotionStream polls an AccelReader on a fixed interval and delivers the
// vectors on a channel that is never closed.
type MotionStream struct {
	reader   AccelReader
	clock    timeutil.Clock
	interval time.Duration

	vectors chan imu.Vector

	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
}

// NewMotionStream returns a stream over reader. A zero interval uses
// DefaultMotionInterval.
func NewMotionStream(reader AccelReader, clock timeutil.Clock, interval time.Duration) *MotionStream {
	if interval <= 0 {
		interval = DefaultMotionInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &MotionStream{
		reader:   reader,
		clock:    clock,
		interval: interval,
		vectors:  make(chan imu.Vector, 16),
	}
}

func (m *MotionStream) Vectors() <-chan imu.Vector { return m.vectors }

// Start begins polling. Starting a running stream is a no-op.
func (m *MotionStream) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return nil
	}
	m.done = make(chan struct{})
	m.stopped = make(chan struct{})
	ticker := m.clock.NewTicker(m.interval)
	go m.run(ticker, m.done, m.stopped)
	return nil
}

func (m *MotionStream) run(ticker timeutil.Ticker, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	defer ticker.Stop()

	errCount := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C():
		}

		v, err := m.reader.ReadAccel()
		if err != nil {
			// log the first failure and then every 100th to keep 50 Hz errors readable
			if errCount%100 == 0 {
				log.Printf("device accel: read error: %v", err)
			}
			errCount++
			continue
		}

		select {
		case m.vectors <- v:
		case <-done:
			return
		default:
			// consumer lagging; the next tick carries a fresher vector
		}
	}
}

// Stop halts polling and waits for the poller to exit. Calling Stop
// without Start is a no-op.
func (m *MotionStream) Stop() error {
	m.mu.Lock()
	done, stopped := m.done, m.stopped
	m.done, m.stopped = nil, nil
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	close(done)
	<-stopped
	return nil
}

var _ imu.VectorSource = (*MotionStream)(nil)
