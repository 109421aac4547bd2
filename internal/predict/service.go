// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package predict

import (
	"context"
	"fmt"
	"log"

	"gonum.org/v1/gonum/floats"

	"github.com/relabs-tech/cane_logger/internal/audio"
)

// ErrorLabel is published when no label can be produced.
const ErrorLabel = "Error"

// Service scores spectrograms on its own goroutine and publishes a label
// after every segment. Labels is never closed.
type Service struct {
	model  Model // nil when the model failed to load
	in     chan audio.Spectrogram
	labels chan string
}

func NewService(model Model) *Service {
	return &Service{
		model:  model,
		in:     make(chan audio.Spectrogram, 2),
		labels: make(chan string, 8),
	}
}

func (s *Service) Labels() <-chan string { return s.labels }

// Submit queues a spectrogram, dropping it when the worker is behind.
func (s *Service) Submit(spec audio.Spectrogram) {
	select {
	case s.in <- spec:
	default:
		log.Printf("predict: worker busy, dropped spectrogram")
	}
}

// Run processes submitted spectrograms until ctx is done.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case spec := <-s.in:
			s.Process(spec, func(label string) {
				select {
				case s.labels <- label:
				case <-ctx.Done():
				}
			})
		}
	}
}

// Process accumulates class scores segment by segment and emits the
// running argmax label after each scored segment. A segment that fails to
// score is skipped without a label.
func (s *Service) Process(spec audio.Spectrogram, emit func(string)) {
	if s.model == nil {
		log.Printf("predict: no model loaded")
		emit(ErrorLabel)
		return
	}

	scores := make([]float64, len(Materials))
	for n := 0; n < NumSegments && n < len(spec); n++ {
		input, err := Flatten(spec[n])
		if err != nil {
			log.Printf("predict: segment %d: %v", n, err)
			continue
		}
		out, err := s.model.Scores(input)
		if err != nil {
			log.Printf("predict: segment %d: %v", n, err)
			continue
		}
		if len(out) != len(scores) {
			log.Printf("predict: segment %d: %d scores for %d classes", n, len(out), len(scores))
		} else {
			floats.Add(scores, out)
		}
		emit(Label(scores))
	}
}

// Label returns the material with the highest score.
func Label(scores []float64) string {
	if len(scores) != len(Materials) {
		return ErrorLabel
	}
	return Materials[floats.MaxIdx(scores)]
}

// Flatten replicates a [mel][frame] segment onto every input channel.
func Flatten(segment [][]float64) ([]float64, error) {
	if len(segment) < MelBins {
		return nil, fmt.Errorf("segment has %d mel bins, want %d", len(segment), MelBins)
	}
	out := make([]float64, InputSize)
	for i := 0; i < MelBins; i++ {
		if len(segment[i]) < Frames {
			return nil, fmt.Errorf("mel bin %d has %d frames, want %d", i, len(segment[i]), Frames)
		}
		for c := 0; c < Channels; c++ {
			copy(out[c*MelBins*Frames+i*Frames:], segment[i][:Frames])
		}
	}
	return out, nil
}
