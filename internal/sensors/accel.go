// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/cane_logger/internal/imu"
)

// lsbPerG is the accelerometer sensitivity at the power-on ±2g range.
const lsbPerG = 16384.0

// AccelReader reads one acceleration vector in g.
type AccelReader interface {
	ReadAccel() (imu.Vector, error)
}

// MPU9250Reader is the on-board accelerometer of the logger.
type MPU9250Reader struct {
	dev *mpu9250.MPU9250
}

// NewMPU9250Reader brings up the MPU9250 on spiDev with chip select csPin.
func NewMPU9250Reader(spiDev, csPin string) (*MPU9250Reader, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("device accel: periph host init: %w", err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("device accel: CS pin %q not found", csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("device accel: SPI transport (%s): %w", spiDev, err)
	}

	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("device accel: device creation: %w", err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("device accel: initialization: %w", err)
	}

	// The cane is usually held still at power on; a failed calibration only
	// leaves the factory offsets in place.
	if err := dev.Calibrate(); err != nil {
		log.Printf("device accel: WARNING: calibration failed: %v", err)
	} else {
		log.Printf("device accel: calibration complete")
	}

	log.Printf("device accel: MPU9250 ready on %s (CS %s)", spiDev, csPin)
	return &MPU9250Reader{dev: dev}, nil
}

func (r *MPU9250Reader) ReadAccel() (imu.Vector, error) {
	ax, err := r.dev.GetAccelerationX()
	if err != nil {
		return imu.Vector{}, fmt.Errorf("device accel X: %w", err)
	}
	ay, err := r.dev.GetAccelerationY()
	if err != nil {
		return imu.Vector{}, fmt.Errorf("device accel Y: %w", err)
	}
	az, err := r.dev.GetAccelerationZ()
	if err != nil {
		return imu.Vector{}, fmt.Errorf("device accel Z: %w", err)
	}
	return RawToG(ax, ay, az), nil
}

// RawToG converts raw ±2g counts to g.
func RawToG(ax, ay, az int16) imu.Vector {
	return imu.Vector{
		X: float64(ax) / lsbPerG,
		Y: float64(ay) / lsbPerG,
		Z: float64(az) / lsbPerG,
	}
}
