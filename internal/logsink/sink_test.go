package logsink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/cane_logger/internal/settings"
)

var header = []string{"Timestamp", "Elapsed Time", "x-coordinate"}

func newTestSink(t *testing.T) (*Sink, string, string) {
	t.Helper()
	root := t.TempDir()
	work := filepath.Join(root, "work")
	hist := filepath.Join(root, "history")
	s, err := New(work, hist, settings.NewMemoryStore())
	require.NoError(t, err)
	return s, work, hist
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestCreateFileWritesHeaderOnce(t *testing.T) {
	s, work, _ := newTestSink(t)

	h, err := s.CreateFile("2025-07-01T12-00-00.0000", header)
	require.NoError(t, err)
	require.NoError(t, s.Append(h, []string{"a", "1", "0.1"}))
	require.NoError(t, s.Close(h))

	// Same id again after close: header must not be rewritten.
	h2, err := s.CreateFile("2025-07-01T12-00-00.0000", header)
	require.NoError(t, err)
	assert.Equal(t, h, h2)
	require.NoError(t, s.Append(h2, []string{"b", "2", "0.2"}))
	require.NoError(t, s.CloseAll())

	lines := readLines(t, filepath.Join(work, "2025-07-01T12-00-00.0000.csv"))
	assert.Equal(t, []string{
		"Timestamp,Elapsed Time,x-coordinate",
		"a,1,0.1",
		"b,2,0.2",
	}, lines)
}

func TestCreateFileWhileOpenReturnsSameHandle(t *testing.T) {
	s, work, _ := newTestSink(t)

	h1, err := s.CreateFile("x", header)
	require.NoError(t, err)
	h2, err := s.CreateFile("x", header)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	require.NoError(t, s.CloseAll())

	assert.Len(t, readLines(t, filepath.Join(work, "x.csv")), 1)
}

func TestAppendErrors(t *testing.T) {
	s, _, _ := newTestSink(t)

	err := s.Append(Handle("missing"), []string{"a"})
	assert.ErrorIs(t, err, ErrUnknownHandle)

	h, err := s.CreateFile("x", header)
	require.NoError(t, err)
	require.NoError(t, s.Close(h))
	require.NoError(t, s.Close(h), "second close is a no-op")

	err = s.Append(h, []string{"a"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentAppendsDoNotInterleave(t *testing.T) {
	s, work, _ := newTestSink(t)
	a, err := s.CreateFile("a", header)
	require.NoError(t, err)
	b, err := s.CreateFile("b", header)
	require.NoError(t, err)

	const writers, rows = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rows; i++ {
				row := []string{fmt.Sprintf("w%d", w), fmt.Sprint(i), strings.Repeat("z", 200)}
				assert.NoError(t, s.Append(a, row))
				assert.NoError(t, s.Append(b, row))
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, writers*rows, s.Rows(a))
	require.NoError(t, s.CloseAll())

	for _, name := range []string{"a.csv", "b.csv"} {
		lines := readLines(t, filepath.Join(work, name))
		require.Len(t, lines, writers*rows+1)
		for _, l := range lines[1:] {
			assert.Len(t, strings.Split(l, ","), 3, "torn row %q", l)
		}
	}
}

func TestPersistAndHistory(t *testing.T) {
	s, _, hist := newTestSink(t)

	h, err := s.CreateFile("session", header)
	require.NoError(t, err)
	require.NoError(t, s.Close(h))
	path, err := s.Path(h)
	require.NoError(t, err)

	dest, err := s.Persist(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(hist, "session.csv"), dest)

	// A second persist finds the destination and does nothing.
	dest2, err := s.Persist(path)
	require.NoError(t, err)
	assert.Equal(t, dest, dest2)

	got, err := s.History()
	require.NoError(t, err)
	assert.Equal(t, []string{dest}, got)
	assert.FileExists(t, dest)
}

func TestPersistMissingSource(t *testing.T) {
	s, work, _ := newTestSink(t)
	_, err := s.Persist(filepath.Join(work, "nope.csv"))
	require.Error(t, err)

	got, err := s.History()
	require.NoError(t, err)
	assert.Empty(t, got)
}

type failingIndex struct{ *settings.MemoryStore }

func (failingIndex) SetStrings(string, []string) error { return errors.New("disk full") }

func TestPersistIndexFailureRemovesCopy(t *testing.T) {
	root := t.TempDir()
	s, err := New(filepath.Join(root, "w"), filepath.Join(root, "h"), &failingIndex{settings.NewMemoryStore()})
	require.NoError(t, err)

	h, err := s.CreateFile("x", header)
	require.NoError(t, err)
	require.NoError(t, s.Close(h))
	path, _ := s.Path(h)

	_, err = s.Persist(path)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(root, "h", "x.csv"))
}

func TestDelete(t *testing.T) {
	s, _, _ := newTestSink(t)

	var persisted []string
	for _, id := range []string{"one", "two"} {
		h, err := s.CreateFile(id, header)
		require.NoError(t, err)
		require.NoError(t, s.Close(h))
		path, _ := s.Path(h)
		dest, err := s.Persist(path)
		require.NoError(t, err)
		persisted = append(persisted, dest)
	}

	require.NoError(t, s.Delete(persisted[0]))
	assert.NoFileExists(t, persisted[0])

	got, err := s.History()
	require.NoError(t, err)
	assert.Equal(t, []string{persisted[1]}, got)

	// Deleting a file that is already gone still drops the entry.
	require.NoError(t, os.Remove(persisted[1]))
	require.NoError(t, s.Delete(persisted[1]))
	got, err = s.History()
	require.NoError(t, err)
	assert.Empty(t, got)
}
