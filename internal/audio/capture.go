// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package audio

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// DefaultSampleRate matches the rate the classification service expects.
const DefaultSampleRate = 44100

// Capturer delivers mono float32 frames to onFrames from its own thread
// between Start and Stop.
type Capturer interface {
	Start(onFrames func([]float32)) error
	Stop() error
	SampleRate() int
}

// MalgoCapturer records from the default capture device through miniaudio.
type MalgoCapturer struct {
	sampleRate int

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func NewMalgoCapturer(sampleRate int) *MalgoCapturer {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &MalgoCapturer{sampleRate: sampleRate}
}

func (c *MalgoCapturer) SampleRate() int { return c.sampleRate }

func (c *MalgoCapturer) Start(onFrames func([]float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("audio: malgo init: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(c.sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	onRecvFrames := func(_, pSample []byte, framecount uint32) {
		if framecount == 0 {
			return
		}
		n := int(framecount) * int(deviceConfig.Capture.Channels)
		frames := make([]float32, n)
		for i := 0; i < n; i++ {
			frames[i] = math.Float32frombits(binary.LittleEndian.Uint32(pSample[i*4:]))
		}
		onFrames(frames)
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("audio: init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("audio: start capture device: %w", err)
	}

	c.ctx, c.device = ctx, device
	log.Printf("audio: capturing from default input at %d Hz", c.sampleRate)
	return nil
}

// Stop releases the device. Uninit blocks until the data callback has
// returned, so no frame is delivered after Stop.
func (c *MalgoCapturer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return nil
	}
	c.device.Uninit()
	err := c.ctx.Uninit()
	c.ctx.Free()
	c.ctx, c.device = nil, nil
	if err != nil {
		return fmt.Errorf("audio: malgo uninit: %w", err)
	}
	return nil
}
