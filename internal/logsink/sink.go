// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package logsink owns the session CSV files: creation with a fixed header,
// serialized appends, close, and persistence into the history directory
// backed by the settings index.
package logsink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/relabs-tech/cane_logger/internal/settings"
)

var (
	ErrUnknownHandle = errors.New("logsink: unknown file handle")
	ErrClosed        = errors.New("logsink: file handle closed")
)

// Handle identifies an open CSV file by its logical id.
type Handle string

type csvFile struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	w      *csv.Writer
	rows   int
	closed bool
}

// Sink manages CSV files under workDir and their copies under historyDir.
type Sink struct {
	workDir    string
	historyDir string
	index      settings.Store

	mu    sync.RWMutex
	files map[Handle]*csvFile

	// serializes read-modify-write of the history index
	indexMu sync.Mutex
}

// New creates both directories if needed.
func New(workDir, historyDir string, index settings.Store) (*Sink, error) {
	for _, dir := range []string{workDir, historyDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logsink: create %s: %w", dir, err)
		}
	}
	return &Sink{
		workDir:    workDir,
		historyDir: historyDir,
		index:      index,
		files:      make(map[Handle]*csvFile),
	}, nil
}

// WorkDir is where live session artifacts are written.
func (s *Sink) WorkDir() string { return s.workDir }

// CreateFile opens <workDir>/<id>.csv for appending. The header row is only
// written when the file is new or empty, so reopening an id never rewrites
// or duplicates it. Reopening an id that is still open returns its handle.
func (s *Sink) CreateFile(id string, header []string) (Handle, error) {
	h := Handle(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cf, ok := s.files[h]; ok {
		cf.mu.Lock()
		open := !cf.closed
		cf.mu.Unlock()
		if open {
			return h, nil
		}
	}

	path := filepath.Join(s.workDir, id+".csv")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("logsink: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return "", fmt.Errorf("logsink: stat %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 && len(header) > 0 {
		if err := w.Write(header); err != nil {
			f.Close()
			return "", fmt.Errorf("logsink: write header %s: %w", path, err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return "", fmt.Errorf("logsink: flush header %s: %w", path, err)
		}
	}

	s.files[h] = &csvFile{path: path, f: f, w: w}
	return h, nil
}

func (s *Sink) lookup(h Handle) (*csvFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cf, ok := s.files[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return cf, nil
}

// Append writes one row and flushes it. Appends to the same handle are
// serialized; different handles do not contend.
func (s *Sink) Append(h Handle, row []string) error {
	cf, err := s.lookup(h)
	if err != nil {
		return err
	}
	cf.mu.Lock()
	defer cf.mu.Unlock()
	if cf.closed {
		return ErrClosed
	}
	if err := cf.w.Write(row); err != nil {
		return fmt.Errorf("logsink: append %s: %w", cf.path, err)
	}
	cf.w.Flush()
	if err := cf.w.Error(); err != nil {
		return fmt.Errorf("logsink: flush %s: %w", cf.path, err)
	}
	cf.rows++
	return nil
}

// Path returns the on-disk location of h.
func (s *Sink) Path(h Handle) (string, error) {
	cf, err := s.lookup(h)
	if err != nil {
		return "", err
	}
	return cf.path, nil
}

// Rows returns the number of data rows appended through h.
func (s *Sink) Rows(h Handle) int {
	cf, err := s.lookup(h)
	if err != nil {
		return 0
	}
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return cf.rows
}

// Close flushes and closes h. Closing twice is a no-op.
func (s *Sink) Close(h Handle) error {
	cf, err := s.lookup(h)
	if err != nil {
		return err
	}
	return cf.close()
}

func (cf *csvFile) close() error {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	if cf.closed {
		return nil
	}
	cf.closed = true
	cf.w.Flush()
	flushErr := cf.w.Error()
	closeErr := cf.f.Close()
	if flushErr != nil {
		return fmt.Errorf("logsink: flush %s: %w", cf.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("logsink: close %s: %w", cf.path, closeErr)
	}
	return nil
}

// CloseAll flushes and releases every open handle.
func (s *Sink) CloseAll() error {
	s.mu.RLock()
	files := make([]*csvFile, 0, len(s.files))
	for _, cf := range s.files {
		files = append(files, cf)
	}
	s.mu.RUnlock()

	var errs []error
	for _, cf := range files {
		if err := cf.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Persist copies a finished file into the history directory and registers
// it in the history index. If the destination already exists the call is a
// no-op and returns the existing destination.
func (s *Sink) Persist(path string) (string, error) {
	dest := filepath.Join(s.historyDir, filepath.Base(path))

	srcAbs, _ := filepath.Abs(path)
	destAbs, _ := filepath.Abs(dest)
	if srcAbs == destAbs {
		// History and work dir are the same place; only the index entry is missing.
		return dest, s.register(dest, true)
	}

	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("logsink: stat %s: %w", dest, err)
	}

	if err := copyFile(path, dest); err != nil {
		return "", err
	}
	if err := s.register(dest, false); err != nil {
		// Without an index entry the copy would make later persists no-ops.
		if rmErr := os.Remove(dest); rmErr != nil {
			log.Printf("logsink: remove unindexed %s: %v", dest, rmErr)
		}
		return "", err
	}
	return dest, nil
}

func (s *Sink) register(dest string, skipIfPresent bool) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	paths, err := s.index.Strings(settings.HistoryKey)
	if err != nil {
		return fmt.Errorf("logsink: read history: %w", err)
	}
	if skipIfPresent && slices.Contains(paths, dest) {
		return nil
	}
	paths = append(paths, dest)
	if err := s.index.SetStrings(settings.HistoryKey, paths); err != nil {
		return fmt.Errorf("logsink: write history: %w", err)
	}
	return nil
}

// History returns persisted files in the order they were saved.
func (s *Sink) History() ([]string, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	paths, err := s.index.Strings(settings.HistoryKey)
	if err != nil {
		return nil, fmt.Errorf("logsink: read history: %w", err)
	}
	return paths, nil
}

// Delete removes a persisted file and its index entry. A file that is
// already gone is logged and its entry is still dropped.
func (s *Sink) Delete(path string) error {
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("logsink: delete %s: %w", path, err)
		}
		log.Printf("logsink: delete %s: file does not exist", path)
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	paths, err := s.index.Strings(settings.HistoryKey)
	if err != nil {
		return fmt.Errorf("logsink: read history: %w", err)
	}
	paths = slices.DeleteFunc(paths, func(p string) bool { return p == path })
	if err := s.index.SetStrings(settings.HistoryKey, paths); err != nil {
		return fmt.Errorf("logsink: write history: %w", err)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("logsink: open %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp*")
	if err != nil {
		return fmt.Errorf("logsink: temp for %s: %w", dest, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("logsink: copy %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("logsink: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("logsink: rename into %s: %w", dest, err)
	}
	return nil
}
