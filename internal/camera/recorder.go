// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package camera records session video by driving an ffmpeg process that
// reads the cane camera through v4l2.
package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
)

var (
	ErrNoSession    = errors.New("camera: no capture session")
	ErrRecording    = errors.New("camera: already recording")
	ErrNotRecording = errors.New("camera: not recording")
)

// CaptureSession describes a camera that was probed and can record.
type CaptureSession struct {
	Device string
	Binary string
}

// CommandFunc builds the recorder process.
type CommandFunc func(name string, args ...string) *exec.Cmd

// Recorder owns at most one ffmpeg process at a time.
type Recorder struct {
	binary  string
	device  string
	command CommandFunc

	mu      sync.Mutex
	session *CaptureSession
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	path    string
	exited  chan error
}

// NewRecorder records from device with binary (default "ffmpeg").
func NewRecorder(binary, device string) *Recorder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Recorder{binary: binary, device: device, command: exec.Command}
}

// WithCommand replaces how the recorder process is built.
func (r *Recorder) WithCommand(fn CommandFunc) *Recorder {
	r.command = fn
	return r
}

// CreateCaptureSession checks that the device and the recorder binary are
// usable. On failure the session stays unset.
func (r *Recorder) CreateCaptureSession(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bin, err := exec.LookPath(r.binary)
	if err != nil {
		return fmt.Errorf("camera: recorder binary: %w", err)
	}
	if _, err := os.Stat(r.device); err != nil {
		return fmt.Errorf("camera: device %s: %w", r.device, err)
	}

	r.mu.Lock()
	r.session = &CaptureSession{Device: r.device, Binary: bin}
	r.mu.Unlock()
	log.Printf("camera: capture session ready on %s", r.device)
	return nil
}

// CaptureSession returns the probed session, or nil.
func (r *Recorder) CaptureSession() *CaptureSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// StartRecording launches the recorder writing to path.
func (r *Recorder) StartRecording(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return ErrNoSession
	}
	if r.cmd != nil {
		return ErrRecording
	}

	cmd := r.command(r.session.Binary,
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2", "-i", r.session.Device,
		"-c:v", "libx264", "-preset", "ultrafast", "-pix_fmt", "yuv420p",
		"-y", path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("camera: stdin pipe: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("camera: start recorder: %w", err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	r.cmd, r.stdin, r.path, r.exited = cmd, stdin, path, exited
	log.Printf("camera: recording to %s", path)
	return nil
}

// Recording reports whether a recorder process is running.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmd != nil
}

// StopRecording asks the recorder to finish and waits until the process
// has exited, which is when the file is finalized. If ctx ends first the
// process is killed and the file may be unreadable.
func (r *Recorder) StopRecording(ctx context.Context) (string, error) {
	r.mu.Lock()
	cmd, stdin, path, exited := r.cmd, r.stdin, r.path, r.exited
	r.cmd, r.stdin, r.path, r.exited = nil, nil, "", nil
	r.mu.Unlock()

	if cmd == nil {
		return "", ErrNotRecording
	}

	// "q" on stdin makes ffmpeg write the trailer and exit cleanly.
	if _, err := io.WriteString(stdin, "q\n"); err != nil {
		log.Printf("camera: send quit: %v", err)
	}
	stdin.Close()

	select {
	case err := <-exited:
		if err != nil {
			return path, fmt.Errorf("camera: recorder exited: %w", err)
		}
		log.Printf("camera: recording finalized %s", path)
		return path, nil
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-exited
		return path, fmt.Errorf("camera: recorder did not finish: %w", ctx.Err())
	}
}
