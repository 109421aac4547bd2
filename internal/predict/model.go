// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package predict turns classification spectrograms into surface material
// labels with an on-device model.
package predict

import (
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

// Materials are the model's output classes, in output order.
var Materials = []string{"concrete", "subway grate", "brick", "dirt", "manhole", "tactile", "cellar door"}

const (
	MelBins     = 64
	Frames      = 173
	Channels    = 2
	NumSegments = 2

	// InputSize is the flattened [channel][mel][frame] model input.
	InputSize = Channels * MelBins * Frames
)

// Model scores one flattened input.
type Model interface {
	Scores(input []float64) ([]float64, error)
}

// LinearModel computes W·x + b.
type LinearModel struct {
	w *mat.Dense
	b *mat.VecDense
}

type linearFile struct {
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

// NewLinearModel builds a model from one weight row per class.
func NewLinearModel(weights [][]float64, bias []float64) (*LinearModel, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("predict: model has no weights")
	}
	if len(bias) != len(weights) {
		return nil, fmt.Errorf("predict: %d bias terms for %d classes", len(bias), len(weights))
	}
	cols := len(weights[0])
	data := make([]float64, 0, len(weights)*cols)
	for i, row := range weights {
		if len(row) != cols {
			return nil, fmt.Errorf("predict: weight row %d has %d columns, want %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return &LinearModel{
		w: mat.NewDense(len(weights), cols, data),
		b: mat.NewVecDense(len(bias), append([]float64(nil), bias...)),
	}, nil
}

// LoadLinearModel reads {"weights": [[...]], "bias": [...]} from path.
func LoadLinearModel(path string) (*LinearModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("predict: read model: %w", err)
	}
	var f linearFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("predict: decode model %s: %w", path, err)
	}
	return NewLinearModel(f.Weights, f.Bias)
}

func (m *LinearModel) Scores(input []float64) ([]float64, error) {
	rows, cols := m.w.Dims()
	if len(input) != cols {
		return nil, fmt.Errorf("predict: input has %d values, model expects %d", len(input), cols)
	}
	var out mat.VecDense
	out.MulVec(m.w, mat.NewVecDense(cols, input))
	out.AddVec(&out, m.b)

	scores := make([]float64, rows)
	for i := range scores {
		scores[i] = out.AtVec(i)
	}
	return scores, nil
}
