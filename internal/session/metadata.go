// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/relabs-tech/cane_logger/internal/config"
)

// Metadata is the <key>.json sidecar persisted with every session.
type Metadata struct {
	ID             string         `json:"id"`
	Key            string         `json:"key"`
	StartedAt      time.Time      `json:"started_at"`
	StoppedAt      time.Time      `json:"stopped_at"`
	Profile        config.Profile `json:"profile"`
	Device         string         `json:"external_imu_device,omitempty"`
	Rows           RowCounts      `json:"rows"`
	Artifacts      []string       `json:"artifacts"`
	FinalizeErrors []string       `json:"finalize_errors,omitempty"`
}

func writeMetadata(dir string, m Metadata) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("session: encode metadata: %w", err)
	}
	path := filepath.Join(dir, m.Key+".json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("session: write metadata: %w", err)
	}
	return path, nil
}
