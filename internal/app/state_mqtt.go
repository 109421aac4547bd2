// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/cane_logger/internal/session"
)

// connectMQTT dials the broker with the given client id.
func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return client, nil
}

type tokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// StatePublisher sends coordinator snapshots to MQTT as retained JSON so a
// late subscriber sees the current state immediately.
type StatePublisher struct {
	client tokenPublisher
	topic  string
}

func NewStatePublisher(client tokenPublisher, topic string) *StatePublisher {
	return &StatePublisher{client: client, topic: topic}
}

// Publish does not wait for the broker; it is called from the session loop.
func (p *StatePublisher) Publish(s session.State) {
	payload, err := json.Marshal(s)
	if err != nil {
		log.Printf("logger: state marshal error: %v", err)
		return
	}
	token := p.client.Publish(p.topic, 0, true, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("logger: state publish error: %v", token.Error())
		}
	}()
}

type tokenSubscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// subscribeState decodes every State published on topic and hands it to fn.
// Undecodable payloads are logged under component and skipped.
func subscribeState(client tokenSubscriber, topic, component string, fn func(session.State)) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s session.State
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("%s: state unmarshal error: %v", component, err)
			return
		}
		fn(s)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("%s: subscribed to %s", component, topic)
	return nil
}
