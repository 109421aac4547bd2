// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/relabs-tech/cane_logger/internal/config"
	"github.com/relabs-tech/cane_logger/internal/session"
)

// RunConsoleMQTT prints every published session state until Ctrl+C.
func RunConsoleMQTT() error {
	cfg := config.Get()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	err = subscribeState(client, cfg.TopicSessionState, "console", func(s session.State) {
		fmt.Println(formatState(s))
	})
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

// formatState renders one console line per state message.
func formatState(s session.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%-6s]", s.Phase)
	if s.SessionKey != "" {
		fmt.Fprintf(&b, " %s", s.SessionKey)
	}

	if s.Location != nil {
		fmt.Fprintf(&b, "  lat=%.6f lon=%.6f", s.Location.Latitude, s.Location.Longitude)
		if s.Location.HasAccuracy() {
			fmt.Fprintf(&b, " ±%.1fm", s.Location.Accuracy)
		}
	} else {
		b.WriteString("  gps=none")
	}

	if s.ExternalIMU != nil {
		fmt.Fprintf(&b, "  ext=(%.2f,%.2f,%.2f)", s.ExternalIMU.X, s.ExternalIMU.Y, s.ExternalIMU.Z)
	}
	if s.ExternalConnected {
		b.WriteString(" link=up")
	} else {
		b.WriteString(" link=down")
	}
	if s.SignalStrength != nil {
		fmt.Fprintf(&b, " rssi=%d", *s.SignalStrength)
	}
	if s.DeviceAccel != nil {
		fmt.Fprintf(&b, "  dev=(%.2f,%.2f,%.2f)", s.DeviceAccel.X, s.DeviceAccel.Y, s.DeviceAccel.Z)
	}
	if s.Decibels != nil {
		fmt.Fprintf(&b, "  %ddB", *s.Decibels)
	}
	fmt.Fprintf(&b, "  label=%s  rows=%d/%d", s.Classification, s.Rows.Primary, s.Rows.Secondary)
	if s.CameraRecording {
		b.WriteString("  REC")
	}

	for _, e := range stateErrors(s) {
		fmt.Fprintf(&b, "\n  ! %s", e)
	}
	return b.String()
}

// stateErrors lists every channel error in State with its channel name.
func stateErrors(s session.State) []string {
	var out []string
	add := func(name, msg string) {
		if msg != "" {
			out = append(out, name+": "+msg)
		}
	}
	add("logging", s.LoggingError)
	add("location", s.LocationError)
	add("motion", s.MotionError)
	add("external imu", s.ExternalIMUError)
	add("recording", s.RecordingError)
	add("classification", s.ClassificationError)
	add("camera", s.CameraError)
	for _, e := range s.FinalizeErrors {
		add("NOT SAVED", e)
	}
	return out
}
