package gps

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ggaLine = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	rmcLine = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
	rmcVoid = "$GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*7D"
)

var fixedNow = func() time.Time { return time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC) }

func TestParseLineRMCWithoutGGA(t *testing.T) {
	p := NewParser(fixedNow)
	fix, ok := p.ParseLine(rmcLine)
	require.True(t, ok)
	assert.InDelta(t, 48.1173, fix.Latitude, 1e-4)
	assert.InDelta(t, 11.5167, fix.Longitude, 1e-4)
	assert.InDelta(t, 22.4, fix.SpeedKnots, 1e-9)
	assert.Equal(t, "A", fix.Validity)
	assert.False(t, fix.HasAccuracy())
	assert.Equal(t, fixedNow(), fix.Time)
}

func TestParseLineGGASetsAccuracy(t *testing.T) {
	p := NewParser(fixedNow)
	_, ok := p.ParseLine(ggaLine)
	assert.False(t, ok, "GGA alone never emits a fix")

	fix, ok := p.ParseLine(rmcLine)
	require.True(t, ok)
	assert.InDelta(t, 4.5, fix.Accuracy, 1e-9)
}

func TestParseLineIgnoresNoise(t *testing.T) {
	p := NewParser(fixedNow)
	for _, line := range []string{"", "garbage", "$GPRMC,broken*00", rmcVoid} {
		_, ok := p.ParseLine(line)
		assert.False(t, ok, "line %q", line)
	}
}

func TestScan(t *testing.T) {
	input := strings.Join([]string{ggaLine, "noise", rmcLine, rmcVoid, rmcLine}, "\r\n")
	var got []Fix
	err := NewParser(fixedNow).Scan(strings.NewReader(input), func(f Fix) { got = append(got, f) })
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestStreamDeliversUntilStop(t *testing.T) {
	pr, pw := io.Pipe()
	s := NewStream(func() (io.ReadCloser, error) { return pr, nil }, fixedNow)

	require.NoError(t, s.Start())
	go func() {
		io.WriteString(pw, rmcLine+"\r\n")
	}()

	select {
	case fix := <-s.Fixes():
		assert.InDelta(t, 48.1173, fix.Latitude, 1e-4)
	case <-time.After(2 * time.Second):
		t.Fatal("no fix delivered")
	}

	require.NoError(t, s.Stop())

	// Writes after Stop fail because the port is closed; nothing is delivered.
	_, err := io.WriteString(pw, rmcLine+"\r\n")
	assert.Error(t, err)
	select {
	case <-s.Fixes():
		t.Fatal("fix delivered after Stop")
	default:
	}
}

func TestStreamStopWithoutStart(t *testing.T) {
	s := NewStream(func() (io.ReadCloser, error) { return nil, io.ErrClosedPipe }, fixedNow)
	assert.NoError(t, s.Stop())
	assert.Error(t, s.Start())
	assert.NoError(t, s.Stop())
}
