// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"strconv"
	"strings"
	"time"

	"github.com/relabs-tech/cane_logger/internal/gps"
	"github.com/relabs-tech/cane_logger/internal/imu"
)

const (
	// TimestampLayout is shared by every row of every log of a session so
	// files can be joined on it. Always rendered in local time.
	TimestampLayout = "2006-01-02 15:04:05.0000"
	// KeyLayout names every artifact of a session.
	KeyLayout = "2006-01-02T15-04-05.0000"
	// NoPrediction fills the prediction column when there is no label.
	NoPrediction = "Disabled"
)

var (
	PrimaryHeader   = []string{"Timestamp", "Elapsed Time", "x-coordinate", "y-coordinate", "z-coordinate", "latitude", "longitude", "prediction"}
	SecondaryHeader = []string{"Timestamp", "Elapsed Time", "x-coordinate", "y-coordinate", "z-coordinate"}
)

// formatFloat prints the shortest representation, always with a decimal
// point so integral values read as 40.0 rather than 40.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}

func primaryRow(ts time.Time, elapsed time.Duration, v imu.Vector, fix gps.Fix, label string) []string {
	if label == "" {
		label = NoPrediction
	}
	return []string{
		ts.Local().Format(TimestampLayout),
		formatFloat(elapsed.Seconds()),
		formatFloat(v.X), formatFloat(v.Y), formatFloat(v.Z),
		formatFloat(fix.Latitude), formatFloat(fix.Longitude),
		label,
	}
}

func secondaryRow(ts time.Time, elapsed time.Duration, v imu.Vector) []string {
	return []string{
		ts.Local().Format(TimestampLayout),
		formatFloat(elapsed.Seconds()),
		formatFloat(v.X), formatFloat(v.Y), formatFloat(v.Z),
	}
}
