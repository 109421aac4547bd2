// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile tags a session with the conditions it was recorded under.
type Profile struct {
	CaneType          string `yaml:"cane_type" json:"cane_type"`
	Weather           string `yaml:"weather" json:"weather"`
	TestBed           string `yaml:"test_bed" json:"test_bed"`
	AreaCode          string `yaml:"area_code" json:"area_code"`
	PreferPredictions bool   `yaml:"prefer_predictions" json:"prefer_predictions"`
}

// LoadProfile reads profile.yaml. An empty path or a missing file yields
// the zero profile.
func LoadProfile(path string) (Profile, error) {
	var p Profile
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("read profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse profile: %w", err)
	}
	return p, nil
}
