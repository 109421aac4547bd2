package camera

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptRecorder returns a Recorder whose process runs script with the
// output path as $1.
func scriptRecorder(t *testing.T, script string) *Recorder {
	t.Helper()
	device := filepath.Join(t.TempDir(), "video0")
	require.NoError(t, os.WriteFile(device, nil, 0o644))
	return NewRecorder("sh", device).WithCommand(func(_ string, args ...string) *exec.Cmd {
		return exec.Command("sh", "-c", script, "sh", args[len(args)-1])
	})
}

func TestCreateCaptureSessionMissingDevice(t *testing.T) {
	r := NewRecorder("sh", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, r.CreateCaptureSession(context.Background()))
	assert.Nil(t, r.CaptureSession())
	assert.ErrorIs(t, r.StartRecording("x.mp4"), ErrNoSession)
}

func TestStopWaitsForFinalization(t *testing.T) {
	r := scriptRecorder(t, `read q; sleep 0.2; echo "$q" > "$1"`)
	require.NoError(t, r.CreateCaptureSession(context.Background()))
	require.NotNil(t, r.CaptureSession())

	out := filepath.Join(t.TempDir(), "video.mp4")
	require.NoError(t, r.StartRecording(out))
	assert.True(t, r.Recording())
	assert.ErrorIs(t, r.StartRecording(out), ErrRecording)

	start := time.Now()
	path, err := r.StopRecording(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, out, path)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "q\n", string(data))

	_, err = r.StopRecording(context.Background())
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestStopKillsOnTimeout(t *testing.T) {
	r := scriptRecorder(t, `trap '' INT; exec sleep 30`)
	require.NoError(t, r.CreateCaptureSession(context.Background()))
	require.NoError(t, r.StartRecording(filepath.Join(t.TempDir(), "v.mp4")))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := r.StopRecording(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, r.Recording())
}
