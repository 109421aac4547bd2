// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
)

// uere is the user equivalent range error (metres) used to turn HDOP into
// an approximate horizontal accuracy.
const uere = 5.0

// Parser turns NMEA sentences into fixes. GGA sentences only update the
// dilution of precision; each valid RMC produces a Fix.
type Parser struct {
	hdop float64
	now  func() time.Time
}

// NewParser returns a Parser stamping fixes with now.
func NewParser(now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{hdop: -1, now: now}
}

// ParseLine consumes one line. ok is true when the line produced a fix.
func (p *Parser) ParseLine(line string) (Fix, bool) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "$") {
		return Fix{}, false
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		// noisy receiver or partial sentence
		return Fix{}, false
	}

	switch sentence.DataType() {
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		if m.FixQuality == nmea.Invalid {
			p.hdop = -1
		} else {
			p.hdop = m.HDOP
		}
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		if m.Validity != nmea.ValidRMC {
			return Fix{}, false
		}
		acc := -1.0
		if p.hdop > 0 {
			acc = p.hdop * uere
		}
		return Fix{
			Time:       p.now(),
			Latitude:   m.Latitude,
			Longitude:  m.Longitude,
			Accuracy:   acc,
			SpeedKnots: m.Speed,
			CourseDeg:  m.Course,
			Validity:   m.Validity,
		}, true
	}
	return Fix{}, false
}

// Scan reads lines from r until EOF or error and hands every fix to emit.
func (p *Parser) Scan(r io.Reader, emit func(Fix)) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if fix, ok := p.ParseLine(line); ok {
				emit(fix)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Opener opens the receiver's byte stream.
type Opener func() (io.ReadCloser, error)

// SerialOpener opens a serial port the way the receiver expects (8N1).
func SerialOpener(port string, baud int) Opener {
	return func() (io.ReadCloser, error) {
		opts := serial.OpenOptions{
			PortName:              port,
			BaudRate:              uint(baud),
			DataBits:              8,
			StopBits:              1,
			MinimumReadSize:       1,
			ParityMode:            serial.PARITY_NONE,
			InterCharacterTimeout: 0,
		}
		rc, err := serial.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("gps: open %s: %w", port, err)
		}
		log.Printf("gps: serial port opened on %s at %d baud", port, baud)
		return rc, nil
	}
}

// Stream is the location stream. Fixes are delivered on a channel that is
// created once and never closed; between Start and Stop every parsed fix is
// offered to it, dropping fixes when the reader lags.
type Stream struct {
	open Opener
	now  func() time.Time

	fixes chan Fix

	mu      sync.Mutex
	port    io.ReadCloser
	done    chan struct{}
	stopped chan struct{}
}

// NewStream builds a Stream that reads from open on Start.
func NewStream(open Opener, now func() time.Time) *Stream {
	return &Stream{
		open:  open,
		now:   now,
		fixes: make(chan Fix, 16),
	}
}

// Fixes returns the delivery channel.
func (s *Stream) Fixes() <-chan Fix { return s.fixes }

// Start opens the port and begins parsing. Starting a running stream is a no-op.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}

	port, err := s.open()
	if err != nil {
		return err
	}
	s.port = port
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	go s.run(port, s.done, s.stopped)
	return nil
}

func (s *Stream) run(port io.Reader, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	p := NewParser(s.now)
	err := p.Scan(port, func(f Fix) {
		select {
		case <-done:
			return
		default:
		}
		select {
		case s.fixes <- f:
		case <-done:
		default:
			log.Printf("gps: consumer lagging, dropped fix")
		}
	})

	select {
	case <-done:
		// read error from closing the port on Stop
	default:
		if err != nil {
			log.Printf("gps: read error: %v", err)
		} else {
			log.Printf("gps: receiver stream ended")
		}
	}
}

// Stop closes the port and waits for the reader. No fix is delivered after
// Stop returns. Calling Stop without Start is a no-op.
func (s *Stream) Stop() error {
	s.mu.Lock()
	port, done, stopped := s.port, s.done, s.stopped
	s.port = nil
	s.mu.Unlock()

	if port == nil {
		return nil
	}
	close(done)
	err := port.Close()
	<-stopped
	if err != nil {
		return fmt.Errorf("gps: close port: %w", err)
	}
	return nil
}
