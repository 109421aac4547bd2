// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package extimu receives the cane-mounted wearable IMU. A BLE gateway owns
// the radio link and bridges it onto MQTT:
//
//	<prefix>/<device>       accelerometer samples, JSON {"x","y","z","rssi"}
//	<prefix>/<device>/cmd   "connect" / "disconnect" requests to the gateway
package extimu

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/cane_logger/internal/imu"
)

// ErrNoDevice is returned by Connect and Start before SetDevice.
var ErrNoDevice = errors.New("extimu: no device selected")

// Broker is the part of mqtt.Client the stream uses.
type Broker interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

type payload struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
	RSSI *int    `json:"rssi"`
}

// Stream delivers samples from the selected device on a channel that is
// never closed.
type Stream struct {
	broker Broker
	prefix string
	now    func() time.Time

	samples chan imu.Sample

	// opMu serializes lifecycle calls; broker round trips happen under it
	// but never under mu, which the message handler takes.
	opMu      sync.Mutex
	mu        sync.Mutex
	device    string
	connected bool   // connect requested and not yet disconnected
	topic     string // subscribed topic while started
}

// NewStream builds a Stream publishing and subscribing under prefix.
func NewStream(broker Broker, prefix string, now func() time.Time) *Stream {
	if now == nil {
		now = time.Now
	}
	return &Stream{
		broker:  broker,
		prefix:  prefix,
		now:     now,
		samples: make(chan imu.Sample, 64),
	}
}

func (s *Stream) Samples() <-chan imu.Sample { return s.samples }

// Device returns the selected device id, or "".
func (s *Stream) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// SetDevice selects the device for the next Connect. A previously selected
// device is stopped and disconnected first.
func (s *Stream) SetDevice(id string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if id == s.device {
		s.mu.Unlock()
		return nil
	}
	old, topic, connected := s.device, s.topic, s.connected
	s.device, s.topic, s.connected = id, "", false
	s.mu.Unlock()

	var errs []error
	if topic != "" {
		errs = append(errs, s.unsubscribe(topic))
	}
	if connected {
		errs = append(errs, s.request(old, "disconnect"))
	}
	log.Printf("extimu: selected device %q", id)
	return errors.Join(errs...)
}

// Connect asks the gateway to connect the selected device. It does not wait
// for the link; completion is logged.
func (s *Stream) Connect() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	device := s.device
	if device != "" {
		s.connected = true
	}
	s.mu.Unlock()
	if device == "" {
		return ErrNoDevice
	}

	token := s.broker.Publish(s.cmdTopic(device), 1, false, "connect")
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("extimu: connect request for %s failed: %v", device, token.Error())
			return
		}
		log.Printf("extimu: connect requested for %s", device)
	}()
	return nil
}

// Disconnect asks the gateway to drop the link. Without a connected device
// it is a no-op.
func (s *Stream) Disconnect() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	device, connected := s.device, s.connected
	s.connected = false
	s.mu.Unlock()
	if !connected {
		return nil
	}
	return s.request(device, "disconnect")
}

// Start subscribes to the selected device's samples.
func (s *Stream) Start() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.device == "" {
		s.mu.Unlock()
		return ErrNoDevice
	}
	if s.topic != "" {
		s.mu.Unlock()
		return nil
	}
	topic := s.prefix + "/" + s.device
	s.topic = topic
	s.mu.Unlock()

	token := s.broker.Subscribe(topic, 0, s.onMessage)
	if token.Wait() && token.Error() != nil {
		s.mu.Lock()
		s.topic = ""
		s.mu.Unlock()
		return fmt.Errorf("extimu: subscribe %s: %w", topic, token.Error())
	}
	log.Printf("extimu: subscribed to %s", topic)
	return nil
}

// Stop unsubscribes. No sample is delivered after Stop returns. Calling Stop
// without Start is a no-op.
func (s *Stream) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	topic := s.topic
	s.topic = ""
	s.mu.Unlock()
	if topic == "" {
		return nil
	}
	return s.unsubscribe(topic)
}

func (s *Stream) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var p payload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		log.Printf("extimu: bad payload on %s: %v", msg.Topic(), err)
		return
	}
	sample := imu.Sample{
		Vector: imu.Vector{X: p.X, Y: p.Y, Z: p.Z},
		RSSI:   p.RSSI,
		Time:   s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// late delivery from a topic we already left
	if s.topic == "" || msg.Topic() != s.topic {
		return
	}
	select {
	case s.samples <- sample:
	default:
		log.Printf("extimu: consumer lagging, dropped sample")
	}
}

func (s *Stream) unsubscribe(topic string) error {
	token := s.broker.Unsubscribe(topic)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("extimu: unsubscribe %s: %w", topic, token.Error())
	}
	log.Printf("extimu: unsubscribed from %s", topic)
	return nil
}

func (s *Stream) request(device, cmd string) error {
	token := s.broker.Publish(s.cmdTopic(device), 1, false, cmd)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("extimu: %s %s: %w", cmd, device, token.Error())
	}
	log.Printf("extimu: %s requested for %s", cmd, device)
	return nil
}

func (s *Stream) cmdTopic(device string) string {
	return s.prefix + "/" + device + "/cmd"
}
