package extimu

import (
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/cane_logger/internal/imu"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 0 }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 0 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}

type published struct {
	topic   string
	payload string
}

type fakeBroker struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]mqtt.MessageHandler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{topic, payload.(string)})
	return doneToken{}
}

func (b *fakeBroker) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = cb
	return doneToken{}
}

func (b *fakeBroker) Unsubscribe(topics ...string) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		delete(b.handlers, t)
	}
	return doneToken{}
}

// deliver invokes the handler registered for topic, if any.
func (b *fakeBroker) deliver(topic, payload string) {
	b.mu.Lock()
	cb := b.handlers[topic]
	b.mu.Unlock()
	if cb != nil {
		cb(nil, message{topic, []byte(payload)})
	}
}

func (b *fakeBroker) handler(topic string) mqtt.MessageHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[topic]
}

func (b *fakeBroker) publishes() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

var now = func() time.Time { return time.Unix(100, 0) }

func TestConnectRequiresDevice(t *testing.T) {
	s := NewStream(newFakeBroker(), "cane/imu", now)
	assert.ErrorIs(t, s.Connect(), ErrNoDevice)
	assert.ErrorIs(t, s.Start(), ErrNoDevice)
	assert.NoError(t, s.Stop())
	assert.NoError(t, s.Disconnect())
}

func TestStartDeliversSamples(t *testing.T) {
	b := newFakeBroker()
	s := NewStream(b, "cane/imu", now)
	require.NoError(t, s.SetDevice("C4:7F"))
	require.NoError(t, s.Connect())
	require.NoError(t, s.Start())

	b.deliver("cane/imu/C4:7F", `{"x":0.1,"y":0.2,"z":9.8,"rssi":-60}`)
	b.deliver("cane/imu/C4:7F", `not json`)
	b.deliver("cane/imu/C4:7F", `{"x":1,"y":2,"z":3}`)

	got := <-s.Samples()
	assert.Equal(t, imu.Vector{X: 0.1, Y: 0.2, Z: 9.8}, got.Vector)
	require.NotNil(t, got.RSSI)
	assert.Equal(t, -60, *got.RSSI)
	assert.Equal(t, now(), got.Time)

	got = <-s.Samples()
	assert.Nil(t, got.RSSI)

	assert.Equal(t, []published{{"cane/imu/C4:7F/cmd", "connect"}}, b.publishes())
}

func TestNoDeliveryAfterStop(t *testing.T) {
	b := newFakeBroker()
	s := NewStream(b, "cane/imu", now)
	require.NoError(t, s.SetDevice("dev1"))
	require.NoError(t, s.Start())
	late := b.handler("cane/imu/dev1")
	require.NotNil(t, late)

	require.NoError(t, s.Stop())
	late(nil, message{"cane/imu/dev1", []byte(`{"x":1,"y":1,"z":1}`)})

	select {
	case <-s.Samples():
		t.Fatal("sample delivered after Stop")
	default:
	}
}

func TestSetDeviceDisconnectsPrevious(t *testing.T) {
	b := newFakeBroker()
	s := NewStream(b, "cane/imu", now)
	require.NoError(t, s.SetDevice("old"))
	require.NoError(t, s.Connect())
	require.NoError(t, s.Start())

	require.NoError(t, s.SetDevice("new"))
	assert.Equal(t, "new", s.Device())
	assert.Nil(t, b.handler("cane/imu/old"))
	assert.Equal(t, []published{
		{"cane/imu/old/cmd", "connect"},
		{"cane/imu/old/cmd", "disconnect"},
	}, b.publishes())

	// The new device is not connected until asked.
	require.NoError(t, s.Disconnect())
	assert.Len(t, b.publishes(), 2)
}
