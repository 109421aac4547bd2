// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

const wavHeaderSize = 44

// WAVWriter writes 16-bit PCM mono. Sizes in the header are patched on Close.
type WAVWriter struct {
	f          *os.File
	sampleRate int
	dataBytes  uint32
}

// CreateWAV creates path and writes a provisional header.
func CreateWAV(path string, sampleRate int) (*WAVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: create %s: %w", path, err)
	}
	w := &WAVWriter{f: f, sampleRate: sampleRate}
	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *WAVWriter) Path() string { return w.f.Name() }

func (w *WAVWriter) writeHeader() error {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	blockAlign := channels * bitsPerSample / 8
	h := make([]byte, wavHeaderSize)
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], 36+w.dataBytes)
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:], channels)
	binary.LittleEndian.PutUint32(h[24:], uint32(w.sampleRate))
	binary.LittleEndian.PutUint32(h[28:], uint32(w.sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:], bitsPerSample)
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], w.dataBytes)

	if _, err := w.f.WriteAt(h, 0); err != nil {
		return fmt.Errorf("audio: write wav header: %w", err)
	}
	return nil
}

// Write appends samples clamped to [-1, 1].
func (w *WAVWriter) Write(samples []float32) error {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(math.Round(v*math.MaxInt16))))
	}
	if _, err := w.f.WriteAt(buf, wavHeaderSize+int64(w.dataBytes)); err != nil {
		return fmt.Errorf("audio: write samples: %w", err)
	}
	w.dataBytes += uint32(len(buf))
	return nil
}

// Close patches the header sizes and closes the file.
func (w *WAVWriter) Close() error {
	hdrErr := w.writeHeader()
	closeErr := w.f.Close()
	if hdrErr != nil {
		return hdrErr
	}
	return closeErr
}

// ReadWAVSamples decodes a 16-bit mono file written by WAVWriter.
func ReadWAVSamples(r io.Reader) (sampleRate int, samples []int16, err error) {
	h := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, h); err != nil {
		return 0, nil, fmt.Errorf("audio: read wav header: %w", err)
	}
	if string(h[0:4]) != "RIFF" || string(h[8:12]) != "WAVE" || string(h[36:40]) != "data" {
		return 0, nil, fmt.Errorf("audio: not a PCM wav file")
	}
	sampleRate = int(binary.LittleEndian.Uint32(h[24:]))
	n := binary.LittleEndian.Uint32(h[40:]) / 2
	samples = make([]int16, n)
	if err := binary.Read(r, binary.LittleEndian, samples); err != nil {
		return 0, nil, fmt.Errorf("audio: read wav data: %w", err)
	}
	return sampleRate, samples, nil
}
