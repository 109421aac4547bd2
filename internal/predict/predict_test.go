package predict

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/cane_logger/internal/audio"
)

func segment(v float64) [][]float64 {
	seg := make([][]float64, MelBins)
	for i := range seg {
		seg[i] = make([]float64, Frames)
		for j := range seg[i] {
			seg[i][j] = v
		}
	}
	return seg
}

// scriptedModel returns one score vector per call, keyed by the first input value.
type scriptedModel map[float64][]float64

func (m scriptedModel) Scores(input []float64) ([]float64, error) {
	out, ok := m[input[0]]
	if !ok {
		return nil, errors.New("no scores")
	}
	return out, nil
}

func collect(s *Service, spec audio.Spectrogram) []string {
	var labels []string
	s.Process(spec, func(l string) { labels = append(labels, l) })
	return labels
}

func TestLinearModelScores(t *testing.T) {
	m, err := NewLinearModel([][]float64{{1, 0}, {0, 2}}, []float64{0.5, -1})
	require.NoError(t, err)
	got, err := m.Scores([]float64{3, 4})
	require.NoError(t, err)
	assert.Equal(t, []float64{3.5, 7}, got)

	_, err = m.Scores([]float64{1})
	assert.Error(t, err)
}

func TestLoadLinearModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"weights":[[1,1],[2,2]],"bias":[0,0]}`), 0o644))
	m, err := LoadLinearModel(path)
	require.NoError(t, err)
	got, err := m.Scores([]float64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4}, got)

	require.NoError(t, os.WriteFile(path, []byte(`{"weights":[[1,1],[2]],"bias":[0,0]}`), 0o644))
	_, err = LoadLinearModel(path)
	assert.Error(t, err)
}

func TestFlattenReplicatesChannels(t *testing.T) {
	seg := segment(0)
	seg[1][2] = 7
	in, err := Flatten(seg)
	require.NoError(t, err)
	require.Len(t, in, InputSize)
	assert.Equal(t, 7.0, in[1*Frames+2])
	assert.Equal(t, 7.0, in[MelBins*Frames+1*Frames+2])

	_, err = Flatten(seg[:10])
	assert.Error(t, err)
}

func TestProcessAccumulatesAcrossSegments(t *testing.T) {
	s := NewService(scriptedModel{
		1: {0, 0, 5, 0, 0, 0, 0}, // brick
		2: {0, 0, 0, 0, 0, 0, 9}, // cellar door outweighs once summed
	})
	labels := collect(s, audio.Spectrogram{segment(1), segment(2), segment(1)})
	assert.Equal(t, []string{"brick", "cellar door"}, labels, "only NumSegments segments are scored")
}

func TestProcessSkipsFailedSegment(t *testing.T) {
	s := NewService(scriptedModel{2: {1, 0, 0, 0, 0, 0, 0}})
	labels := collect(s, audio.Spectrogram{segment(1), segment(2)})
	assert.Equal(t, []string{"concrete"}, labels)
}

func TestProcessWithoutModel(t *testing.T) {
	s := NewService(nil)
	assert.Equal(t, []string{ErrorLabel}, collect(s, audio.Spectrogram{segment(1)}))
}

func TestRunPublishesLabels(t *testing.T) {
	s := NewService(scriptedModel{1: {0, 0, 0, 0, 0, 3, 0}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Submit(audio.Spectrogram{segment(1)})
	select {
	case l := <-s.Labels():
		assert.Equal(t, "tactile", l)
	case <-time.After(2 * time.Second):
		t.Fatal("no label")
	}
}
