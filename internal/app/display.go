// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"image"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/cane_logger/internal/config"
	"github.com/relabs-tech/cane_logger/internal/session"
)

const (
	displayWidth  = 128
	displayHeight = 64
	// 7x13 font on a 128px panel
	displayCols = displayWidth / 7
)

// statusPanel holds the latest state for the display loop.
type statusPanel struct {
	mu    sync.RWMutex
	state session.State
	have  bool
}

func (p *statusPanel) set(s session.State) {
	p.mu.Lock()
	p.state = s
	p.have = true
	p.mu.Unlock()
}

func (p *statusPanel) lines() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return statusLines(p.state, p.have)
}

// RunDisplay shows the session status on the OLED panel mounted on the cane.
func RunDisplay() error {
	cfg := config.Get()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(cfg.DisplayI2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus %q: %w", cfg.DisplayI2CBus, err)
	}
	defer bus.Close()

	opts := ssd1306.DefaultOpts
	opts.Rotated = cfg.DisplayRotated
	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized on I2C bus %q", cfg.DisplayI2CBus)

	if err := dev.Draw(dev.Bounds(), renderLines([]string{"", "  Cane Logger", "  waiting..."}), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	panel := &statusPanel{}
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDDisplay)
	if err != nil {
		return err
	}
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)
	if err := subscribeState(client, cfg.TopicSessionState, "display", panel.set); err != nil {
		return err
	}

	ticker := time.NewTicker(config.Millis(cfg.DisplayUpdateInterval))
	defer ticker.Stop()

	log.Println("display: starting update loop")
	for range ticker.C {
		if err := dev.Draw(dev.Bounds(), renderLines(panel.lines()), image.Point{}); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}
	return nil
}

// statusLines lays the state out as four panel rows.
func statusLines(s session.State, have bool) []string {
	if !have {
		return []string{"Cane Logger", "Waiting..."}
	}

	lines := make([]string, 0, 4)
	lines = append(lines, fmt.Sprintf("%-6s P%d S%d", strings.ToUpper(string(s.Phase)), s.Rows.Primary, s.Rows.Secondary))

	if s.Location != nil {
		lines = append(lines, formatLatLon(s.Location.Latitude, s.Location.Longitude))
	} else {
		lines = append(lines, "GPS --")
	}

	link := "EXT down"
	if s.ExternalConnected {
		link = "EXT up"
	}
	if s.SignalStrength != nil {
		link += fmt.Sprintf(" %ddBm", *s.SignalStrength)
	}
	lines = append(lines, link)

	switch {
	case len(s.FinalizeErrors) > 0:
		lines = append(lines, "NOT SAVED!")
	case s.Decibels != nil:
		lines = append(lines, fmt.Sprintf("%s %ddB", s.Classification, *s.Decibels))
	default:
		lines = append(lines, s.Classification)
	}

	for i, l := range lines {
		if len(l) > displayCols {
			lines[i] = l[:displayCols]
		}
	}
	return lines
}

func formatLatLon(lat, lon float64) string {
	latDir := "N"
	if lat < 0 {
		latDir = "S"
		lat = -lat
	}
	lonDir := "E"
	if lon < 0 {
		lonDir = "W"
		lon = -lon
	}
	return fmt.Sprintf("%.4f%s %.4f%s", lat, latDir, lon, lonDir)
}

func renderLines(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, l := range lines {
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawString(l)
	}
	return img
}
