package audio

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/relabs-tech/cane_logger/internal/timeutil"
)

type fakeCapturer struct {
	rate     int
	startErr error

	mu       sync.Mutex
	onFrames func([]float32)
}

func (c *fakeCapturer) SampleRate() int { return c.rate }

func (c *fakeCapturer) Start(onFrames func([]float32)) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.mu.Lock()
	c.onFrames = onFrames
	c.mu.Unlock()
	return nil
}

func (c *fakeCapturer) Stop() error {
	c.mu.Lock()
	c.onFrames = nil
	c.mu.Unlock()
	return nil
}

func (c *fakeCapturer) push(frames []float32) {
	c.mu.Lock()
	cb := c.onFrames
	c.mu.Unlock()
	if cb != nil {
		cb(frames)
	}
}

func constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestDecibels(t *testing.T) {
	assert.Equal(t, 0, Decibels(nil))
	assert.Equal(t, 0, Decibels([]float32{0, 0, 0}), "silence is -Inf and reads as 0")
	// rms 0.02 -> 20*log10(1000) = 60
	assert.Equal(t, 60, Decibels(constant(10, 0.02)))
	assert.Equal(t, 0, Decibels([]float32{float32(math.NaN())}))
}

func TestEncodeFloat16(t *testing.T) {
	b := EncodeFloat16([]float32{1, -0.5})
	require.Len(t, b, 4)
	assert.Equal(t, float32(1), float16.Frombits(binary.LittleEndian.Uint16(b[0:])).Float32())
	assert.Equal(t, float32(-0.5), float16.Frombits(binary.LittleEndian.Uint16(b[2:])).Float32())
}

func TestWAVWriter(t *testing.T) {
	path := t.TempDir() + "/a.wav"
	w, err := CreateWAV(path, 8000)
	require.NoError(t, err)
	require.NoError(t, w.Write([]float32{0, 1, -1, 2}))
	require.NoError(t, w.Write([]float32{0.5}))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rate, samples, err := ReadWAVSamples(f)
	require.NoError(t, err)
	assert.Equal(t, 8000, rate)
	assert.Equal(t, []int16{0, math.MaxInt16, -math.MaxInt16, math.MaxInt16, 16384}, samples)
}

func TestHTTPClassifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Len(t, body, 6)
		json.NewEncoder(w).Encode(map[string]any{"mel_spectrogram": [][][]float64{{{1, 2}, {3, 4}}}})
	}))
	defer srv.Close()

	spec, err := NewHTTPClassifier(srv.URL, "secret").Classify(context.Background(), []float32{0, 0.1, 0.2})
	require.NoError(t, err)
	assert.Equal(t, Spectrogram{{{1, 2}, {3, 4}}}, spec)
}

func TestHTTPClassifierStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPClassifier(srv.URL, "").Classify(context.Background(), []float32{0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

type stubClassifier struct {
	mu    sync.Mutex
	calls [][]float32
	err   error
}

func (s *stubClassifier) Classify(_ context.Context, samples []float32) (Spectrogram, error) {
	s.mu.Lock()
	s.calls = append(s.calls, samples)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return Spectrogram{{{float64(len(samples))}}}, nil
}

func TestPipelineLevelsAndClassification(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	capt := &fakeCapturer{rate: 10}
	cls := &stubClassifier{}
	p := NewPipeline(capt, cls, t.TempDir(), clock)

	require.NoError(t, p.StartRecording("audio-key", true))
	assert.Error(t, p.StartRecording("again", true))

	// 25 samples at 10 Hz: more than the 2 s window of 20.
	capt.push(constant(5, 0.5))
	capt.push(constant(20, 0.02))
	clock.Advance(DecibelInterval)

	select {
	case level := <-p.Levels():
		assert.Greater(t, level, 60)
	case <-time.After(2 * time.Second):
		t.Fatal("no level")
	}
	select {
	case spec := <-p.Spectrograms():
		assert.Equal(t, Spectrogram{{{20}}}, spec)
	case <-time.After(2 * time.Second):
		t.Fatal("no spectrogram")
	}
	cls.mu.Lock()
	require.Len(t, cls.calls, 1)
	assert.Equal(t, constant(20, 0.02), cls.calls[0], "newest window is shipped")
	cls.mu.Unlock()

	// The window was shipped and cleared, so three more samples do not make another.
	capt.push(constant(3, 0.02))
	clock.Advance(DecibelInterval)
	assert.Equal(t, 60, <-p.Levels())

	path, err := p.StopRecording()
	require.NoError(t, err)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, samples, err := ReadWAVSamples(f)
	require.NoError(t, err)
	assert.Len(t, samples, 28)

	_, err = p.StopRecording()
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestPipelineShipsWindowBetweenTicks(t *testing.T) {
	const period = 4096
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	capt := &fakeCapturer{rate: 44100}
	cls := &stubClassifier{}
	p := NewPipeline(capt, cls, t.TempDir(), clock)
	require.NoError(t, p.StartRecording("periods", true))

	for i := 0; i < 5; i++ {
		// 21 periods fall short of a 2 s window at 44.1 kHz.
		for j := 0; j < 21; j++ {
			capt.push(constant(period, 0.1))
		}
		clock.Advance(DecibelInterval)
		<-p.Levels()
		cls.mu.Lock()
		assert.Len(t, cls.calls, i)
		cls.mu.Unlock()

		capt.push(constant(period, 0.1))
		select {
		case spec := <-p.Spectrograms():
			assert.Equal(t, Spectrogram{{{88200}}}, spec)
		case <-time.After(2 * time.Second):
			t.Fatalf("no spectrogram for window %d", i)
		}
	}

	_, err := p.StopRecording()
	require.NoError(t, err)
	cls.mu.Lock()
	defer cls.mu.Unlock()
	assert.Len(t, cls.calls, 5)
}

func TestPipelineClassificationError(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	capt := &fakeCapturer{rate: 10}
	p := NewPipeline(capt, &stubClassifier{err: errors.New("timeout")}, t.TempDir(), clock)
	require.NoError(t, p.StartRecording("a", true))
	capt.push(constant(20, 0.1))
	clock.Advance(DecibelInterval)
	select {
	case err := <-p.Errors():
		assert.EqualError(t, err, "timeout")
	case <-time.After(2 * time.Second):
		t.Fatal("no error")
	}
	_, err := p.StopRecording()
	require.NoError(t, err)

	assert.True(t, p.ClassificationAvailable())
	assert.False(t, NewPipeline(capt, nil, t.TempDir(), clock).ClassificationAvailable())
}

func TestPipelineClassificationOffForSession(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	capt := &fakeCapturer{rate: 10}
	cls := &stubClassifier{}
	p := NewPipeline(capt, cls, t.TempDir(), clock)
	require.NoError(t, p.StartRecording("a", false))
	capt.push(constant(20, 0.1))
	clock.Advance(DecibelInterval)
	<-p.Levels()
	_, err := p.StopRecording()
	require.NoError(t, err)

	cls.mu.Lock()
	defer cls.mu.Unlock()
	assert.Empty(t, cls.calls)
}

func TestPipelineStartFailure(t *testing.T) {
	p := NewPipeline(&fakeCapturer{rate: 10, startErr: errors.New("no input device")}, nil, t.TempDir(), nil)
	err := p.StartRecording("a", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input device")
	_, err = p.StopRecording()
	assert.ErrorIs(t, err, ErrNotRecording)
}
