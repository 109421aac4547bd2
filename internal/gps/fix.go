// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import "time"

// Fix is one position report from the receiver.
type Fix struct {
	Time       time.Time `json:"time"`
	Latitude   float64   `json:"lat"`         // decimal degrees
	Longitude  float64   `json:"lon"`         // decimal degrees
	Accuracy   float64   `json:"accuracy_m"`  // horizontal, metres; -1 when unknown
	SpeedKnots float64   `json:"speed_knots"` // speed over ground
	CourseDeg  float64   `json:"course_deg"`  // course over ground
	Validity   string    `json:"validity"`    // "A" (valid) / "V" (void)
}

// HasAccuracy reports whether an HDOP was available for this fix.
func (f Fix) HasAccuracy() bool {
	return f.Accuracy >= 0
}
