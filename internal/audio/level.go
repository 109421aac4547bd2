// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package audio

import "math"

// referencePressure is 20 µPa, the threshold of hearing.
const referencePressure = 0.00002

// Decibels returns 20·log10(rms / 20 µPa) rounded to the nearest integer.
// Empty input and non-finite results read as 0.
func Decibels(samples []float32) int {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	db := 20 * math.Log10(rms/referencePressure)
	if math.IsInf(db, 0) || math.IsNaN(db) {
		return 0
	}
	return int(math.Round(db))
}
