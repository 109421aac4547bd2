// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package audio records the session microphone to a WAV file while keeping
// a rolling buffer for loudness levels and remote classification.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/relabs-tech/cane_logger/internal/timeutil"
)

const (
	// DecibelInterval is the loudness reporting period. The level buffer
	// is cleared after every report.
	DecibelInterval = 2 * time.Second
	// ClassifyDuration is the length of the window shipped for classification.
	// A window is shipped as soon as enough samples have been captured.
	ClassifyDuration = 2 * time.Second
)

var ErrNotRecording = errors.New("audio: not recording")

// Pipeline is the audio collaborator of a session. Output channels are
// created once and never closed.
type Pipeline struct {
	capturer   Capturer
	classifier Classifier // nil disables classification
	workDir    string
	clock      timeutil.Clock

	levels       chan int
	spectrograms chan Spectrogram
	errs         chan error

	mu        sync.Mutex
	recording bool
	classify  bool
	wav       *WAVWriter
	buf       []float32 // level samples since the last report
	window    []float32 // samples toward the next classification window
	inflight  bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewPipeline records into workDir. A nil classifier disables classification.
func NewPipeline(capturer Capturer, classifier Classifier, workDir string, clock timeutil.Clock) *Pipeline {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Pipeline{
		capturer:     capturer,
		classifier:   classifier,
		workDir:      workDir,
		clock:        clock,
		levels:       make(chan int, 4),
		spectrograms: make(chan Spectrogram, 4),
		errs:         make(chan error, 4),
	}
}

func (p *Pipeline) Levels() <-chan int               { return p.levels }
func (p *Pipeline) Spectrograms() <-chan Spectrogram { return p.spectrograms }

// Errors carries classification failures. Recording failures are returned
// from StartRecording instead.
func (p *Pipeline) Errors() <-chan error { return p.errs }

// ClassificationAvailable reports whether a classifier is configured.
func (p *Pipeline) ClassificationAvailable() bool { return p.classifier != nil }

// StartRecording opens <workDir>/<name>.wav and starts capture. Windows are
// shipped for classification only when classify is set and a classifier is
// configured.
func (p *Pipeline) StartRecording(name string, classify bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recording {
		return fmt.Errorf("audio: already recording %s", p.wav.Path())
	}

	wav, err := CreateWAV(filepath.Join(p.workDir, name+".wav"), p.capturer.SampleRate())
	if err != nil {
		return err
	}
	p.wav = wav
	p.buf = p.buf[:0]
	p.window = p.window[:0]

	if err := p.capturer.Start(p.onFrames); err != nil {
		wav.Close()
		p.wav = nil
		return fmt.Errorf("audio: recording unavailable: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.ctx = ctx
	p.cancel = cancel
	p.done = make(chan struct{})
	p.recording = true
	p.classify = classify && p.classifier != nil

	ticker := p.clock.NewTicker(DecibelInterval)
	p.wg.Add(1)
	go p.run(ticker, p.done)

	log.Printf("audio: recording to %s (classification enabled: %t)", wav.Path(), p.classify)
	return nil
}

func (p *Pipeline) onFrames(frames []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.recording {
		return
	}
	if err := p.wav.Write(frames); err != nil {
		log.Printf("audio: %v", err)
	}
	p.buf = append(p.buf, frames...)

	if !p.classify {
		return
	}
	need := int(float64(p.capturer.SampleRate()) * ClassifyDuration.Seconds())
	if need <= 0 {
		return
	}
	p.window = append(p.window, frames...)
	if len(p.window) < need {
		return
	}
	if p.inflight {
		log.Printf("audio: classification busy, dropped window")
	} else {
		window := append([]float32(nil), p.window[len(p.window)-need:]...)
		p.inflight = true
		p.wg.Add(1)
		go p.shipWindow(p.ctx, window)
	}
	p.window = p.window[:0]
}

func (p *Pipeline) run(ticker timeutil.Ticker, done <-chan struct{}) {
	defer p.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			p.tick()
		}
	}
}

// tick reports the level of the samples captured since the last tick.
func (p *Pipeline) tick() {
	p.mu.Lock()
	level := Decibels(p.buf)
	p.buf = p.buf[:0]
	p.mu.Unlock()

	select {
	case p.levels <- level:
	default:
	}
}

func (p *Pipeline) shipWindow(ctx context.Context, window []float32) {
	defer p.wg.Done()

	spec, err := p.classifier.Classify(ctx, window)
	p.mu.Lock()
	p.inflight = false
	p.mu.Unlock()
	if ctx.Err() != nil {
		// recording stopped while the request was in flight
		return
	}
	if err != nil {
		select {
		case p.errs <- err:
		default:
			log.Printf("audio: dropped classification error: %v", err)
		}
		return
	}
	select {
	case p.spectrograms <- spec:
	default:
		log.Printf("audio: consumer lagging, dropped spectrogram")
	}
}

// StopRecording stops capture, finalizes the WAV file and returns its path.
// Nothing is delivered on the output channels after it returns.
func (p *Pipeline) StopRecording() (string, error) {
	if err := p.capturer.Stop(); err != nil {
		log.Printf("audio: %v", err)
	}

	p.mu.Lock()
	if !p.recording {
		p.mu.Unlock()
		return "", ErrNotRecording
	}
	p.recording = false
	wav := p.wav
	p.wav = nil
	p.buf = p.buf[:0]
	p.window = p.window[:0]
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	close(done)
	p.wg.Wait()

	path := wav.Path()
	if err := wav.Close(); err != nil {
		return path, fmt.Errorf("audio: finalize %s: %w", path, err)
	}
	log.Printf("audio: recording finalized %s", path)
	return path, nil
}
