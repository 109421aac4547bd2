// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import "time"

// Vector is an acceleration reading in g.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sample is one reading from the external (cane mounted) IMU.
type Sample struct {
	Vector
	RSSI *int      `json:"rssi,omitempty"` // dBm as reported by the BLE gateway
	Time time.Time `json:"time"`
}

// VectorSource delivers acceleration vectors until it is stopped.
type VectorSource interface {
	Start() error
	Stop() error
	Vectors() <-chan Vector
}
