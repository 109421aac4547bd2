// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"slices"
	"time"

	"github.com/relabs-tech/cane_logger/internal/config"
	"github.com/relabs-tech/cane_logger/internal/gps"
	"github.com/relabs-tech/cane_logger/internal/imu"
)

// Phase is the coordinator lifecycle: idle -> active -> ending -> closed,
// and closed -> active again for the next session.
type Phase string

const (
	PhaseIdle   Phase = "idle"
	PhaseActive Phase = "active"
	PhaseEnding Phase = "ending"
	PhaseClosed Phase = "closed"
)

// Options are fixed for the lifetime of one session.
type Options struct {
	Profile config.Profile
	// Device selects the external IMU before connecting; empty keeps the
	// current selection.
	Device string
	// DeviceMotionFallback writes primary rows from the device
	// accelerometer while the external sensor is not connected.
	DeviceMotionFallback bool
}

// RowCounts are rows appended to each log this session.
type RowCounts struct {
	Primary   int `json:"primary"`
	Secondary int `json:"secondary"`
}

// State is the published view of the coordinator. Error fields hold
// one-shot setup messages for the channel they name.
type State struct {
	Phase      Phase     `json:"phase"`
	SessionKey string    `json:"session_key,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`

	Location          *gps.Fix    `json:"location,omitempty"`
	ExternalIMU       *imu.Vector `json:"external_imu,omitempty"`
	DeviceAccel       *imu.Vector `json:"device_accel,omitempty"`
	Classification    string      `json:"classification"`
	ExternalConnected bool        `json:"external_connected"`
	SignalStrength    *int        `json:"signal_strength,omitempty"`
	Decibels          *int        `json:"decibels,omitempty"`

	RecordingError      string `json:"recording_error,omitempty"`
	LoggingError        string `json:"logging_error,omitempty"`
	LocationError       string `json:"location_error,omitempty"`
	MotionError         string `json:"motion_error,omitempty"`
	ExternalIMUError    string `json:"external_imu_error,omitempty"`
	ClassificationError string `json:"classification_error,omitempty"`
	CameraError         string `json:"camera_error,omitempty"`

	CameraReady     bool `json:"camera_ready"`
	CameraRecording bool `json:"camera_recording"`

	// FinalizeErrors lists files that could not be closed or persisted at
	// stop. These mean data loss and are shown prominently.
	FinalizeErrors []string `json:"finalize_errors,omitempty"`
	Artifacts      []string `json:"artifacts,omitempty"`

	WatchdogPolls int       `json:"watchdog_polls"`
	Rows          RowCounts `json:"rows"`
}

func (s State) clone() State {
	out := s
	out.FinalizeErrors = slices.Clone(s.FinalizeErrors)
	out.Artifacts = slices.Clone(s.Artifacts)
	return out
}
