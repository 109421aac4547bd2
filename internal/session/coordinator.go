// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session coordinates one recording session: it starts and stops
// every stream, merges their events into CSV rows, watches the external
// sensor for silence and finalizes every artifact when the session ends.
//
// All session state is owned by the goroutine running Coordinator.Run.
// Stream events arrive on the streams' own channels and caller requests are
// posted to the same loop, so no state is shared between goroutines except
// the published State snapshot.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/cane_logger/internal/audio"
	"github.com/relabs-tech/cane_logger/internal/camera"
	"github.com/relabs-tech/cane_logger/internal/gps"
	"github.com/relabs-tech/cane_logger/internal/imu"
	"github.com/relabs-tech/cane_logger/internal/logsink"
	"github.com/relabs-tech/cane_logger/internal/timeutil"
)

var (
	ErrSessionActive = errors.New("session: a session is already active")
	ErrNoSession     = errors.New("session: no active session")
	ErrNotRunning    = errors.New("session: coordinator is not running")
)

// LocationStream delivers position fixes between Start and Stop.
type LocationStream interface {
	Start() error
	Stop() error
	Fixes() <-chan gps.Fix
}

// MotionStream delivers device accelerometer vectors between Start and Stop.
type MotionStream = imu.VectorSource

// ExternalIMU is the wearable sensor. SetDevice must precede Connect.
type ExternalIMU interface {
	SetDevice(id string) error
	Device() string
	Connect() error
	Disconnect() error
	Start() error
	Stop() error
	Samples() <-chan imu.Sample
}

// AudioPipeline records the session microphone.
type AudioPipeline interface {
	StartRecording(name string, classify bool) error
	StopRecording() (string, error)
	Levels() <-chan int
	Spectrograms() <-chan audio.Spectrogram
	Errors() <-chan error
}

// Predictor turns spectrograms into material labels.
type Predictor interface {
	Submit(spec audio.Spectrogram)
	Labels() <-chan string
}

// Camera records session video. StopRecording returns once the file is
// finalized.
type Camera interface {
	CreateCaptureSession(ctx context.Context) error
	CaptureSession() *camera.CaptureSession
	StartRecording(path string) error
	StopRecording(ctx context.Context) (string, error)
	Recording() bool
}

// LogSink owns the CSV files and the history index.
type LogSink interface {
	WorkDir() string
	CreateFile(id string, header []string) (logsink.Handle, error)
	Append(h logsink.Handle, row []string) error
	Close(h logsink.Handle) error
	Path(h logsink.Handle) (string, error)
	Persist(path string) (string, error)
}

// Publisher receives State snapshots.
type Publisher interface {
	Publish(State)
}

// Deps are the collaborators of a Coordinator. Only Sink is required; a
// nil stream is reported as unavailable when a session starts.
type Deps struct {
	Location    LocationStream
	Motion      MotionStream
	ExternalIMU ExternalIMU
	Audio       AudioPipeline
	Predictor   Predictor
	Camera      Camera
	Sink        LogSink
	Publisher   Publisher
	Clock       timeutil.Clock
}

// Settings are coordinator timings.
type Settings struct {
	WatchdogInterval  time.Duration
	PublishInterval   time.Duration
	CameraStopTimeout time.Duration
}

func (s *Settings) applyDefaults() {
	if s.WatchdogInterval <= 0 {
		s.WatchdogInterval = 3 * time.Second
	}
	if s.PublishInterval <= 0 {
		s.PublishInterval = 500 * time.Millisecond
	}
	if s.CameraStopTimeout <= 0 {
		s.CameraStopTimeout = 30 * time.Second
	}
}

// logFile is a CSV log that was opened for the session.
type logFile struct {
	handle logsink.Handle
	rows   int
}

// activeSession exists only between start and the end of stop, so rows can
// only be written while a session owns open files.
type activeSession struct {
	id        string
	key       string
	startedAt time.Time
	opts      Options

	primary   *logFile // nil when the file could not be created
	secondary *logFile

	recordingAudio bool
	videoPath      string
}

// events are the stream outputs the loop reads; nil for absent streams.
type events struct {
	fixes        <-chan gps.Fix
	vectors      <-chan imu.Vector
	samples      <-chan imu.Sample
	levels       <-chan int
	spectrograms <-chan audio.Spectrogram
	audioErrs    <-chan error
	labels       <-chan string
}

// Coordinator is the single owner of session lifecycle and the only writer
// to the log sink.
type Coordinator struct {
	deps     Deps
	settings Settings
	ev       events

	cmds    chan func()
	started atomic.Bool
	done    chan struct{}

	previewOnce sync.Once
	preview     chan struct{}

	snapMu sync.RWMutex
	snap   State

	// owned by the Run goroutine
	state     State
	phase     Phase
	active    *activeSession
	location  *gps.Fix
	latestExt *imu.Vector
	prevPoll  *imu.Vector
	watchdog  timeutil.Ticker
}

// New builds a Coordinator. Call Run to start its loop.
func New(deps Deps, settings Settings) (*Coordinator, error) {
	if deps.Sink == nil {
		return nil, fmt.Errorf("session: log sink is required")
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	settings.applyDefaults()

	c := &Coordinator{
		deps:     deps,
		settings: settings,
		cmds:     make(chan func()),
		done:     make(chan struct{}),
		preview:  make(chan struct{}),
		phase:    PhaseIdle,
	}
	if deps.Location != nil {
		c.ev.fixes = deps.Location.Fixes()
	}
	if deps.Motion != nil {
		c.ev.vectors = deps.Motion.Vectors()
	}
	if deps.ExternalIMU != nil {
		c.ev.samples = deps.ExternalIMU.Samples()
	}
	if deps.Audio != nil {
		c.ev.levels = deps.Audio.Levels()
		c.ev.spectrograms = deps.Audio.Spectrograms()
		c.ev.audioErrs = deps.Audio.Errors()
	}
	if deps.Predictor != nil {
		c.ev.labels = deps.Predictor.Labels()
	}
	c.state = State{Phase: PhaseIdle, Classification: NoPrediction}
	c.snap = c.state.clone()
	return c, nil
}

// Run processes stream events and requests until ctx is done. An active
// session is finalized before Run returns.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("session: coordinator already running")
	}
	defer close(c.done)

	var publish <-chan time.Time
	if c.deps.Publisher != nil {
		t := c.deps.Clock.NewTicker(c.settings.PublishInterval)
		defer t.Stop()
		publish = t.C()
	}

	log.Printf("session: coordinator running")
	for {
		var watchdog <-chan time.Time
		if c.watchdog != nil {
			watchdog = c.watchdog.C()
		}

		select {
		case <-ctx.Done():
			if c.phase == PhaseActive {
				log.Printf("session: shutting down, finalizing session %s", c.active.key)
				c.stop()
				c.commit()
			}
			return nil
		case fn := <-c.cmds:
			fn()
		case fix := <-c.ev.fixes:
			c.onLocation(fix)
		case v := <-c.ev.vectors:
			c.onDeviceMotion(v)
		case s := <-c.ev.samples:
			c.onExternalIMU(s)
		case db := <-c.ev.levels:
			c.onDecibels(db)
		case spec := <-c.ev.spectrograms:
			c.onSpectrogram(spec)
		case err := <-c.ev.audioErrs:
			c.onClassificationError(err)
		case l := <-c.ev.labels:
			c.onPrediction(l)
		case <-watchdog:
			c.pollWatchdog()
		case <-publish:
			c.deps.Publisher.Publish(c.Snapshot())
			continue
		}
		c.commit()
	}
}

// exec runs fn on the loop and waits for it. ctx bounds only the wait for
// the loop to accept fn; once accepted fn runs to completion.
func (c *Coordinator) exec(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case c.cmds <- func() { fn(); c.commit(); close(finished) }:
	case <-c.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// commit publishes the loop's state to Snapshot readers.
func (c *Coordinator) commit() {
	c.state.Phase = c.phase
	c.snapMu.Lock()
	c.snap = c.state.clone()
	c.snapMu.Unlock()
}

// Snapshot returns the latest published state.
func (c *Coordinator) Snapshot() State {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap.clone()
}

func (c *Coordinator) publishNow() {
	c.commit()
	if c.deps.Publisher != nil {
		c.deps.Publisher.Publish(c.Snapshot())
	}
}

// StartSession opens the session logs and starts every stream. Channel
// setup failures are reported in State and never abort the session.
func (c *Coordinator) StartSession(ctx context.Context, opts Options) error {
	var err error
	if e := c.exec(ctx, func() { err = c.start(opts) }); e != nil {
		return e
	}
	return err
}

// StopSession ends the active session and returns once every artifact,
// including the camera recording, is finalized and persisted. Calling it
// without an active session is a no-op.
func (c *Coordinator) StopSession(ctx context.Context) error {
	return c.exec(ctx, c.stop)
}

// SelectDevice chooses the external sensor, disconnecting the previous one.
func (c *Coordinator) SelectDevice(ctx context.Context, id string) error {
	var err error
	if e := c.exec(ctx, func() {
		if c.deps.ExternalIMU == nil {
			err = fmt.Errorf("session: no external sensor stream")
			return
		}
		err = c.deps.ExternalIMU.SetDevice(id)
		c.latestExt, c.prevPoll = nil, nil
		c.state.ExternalConnected = false
	}); e != nil {
		return e
	}
	return err
}

// StartCameraService prepares the camera. It blocks for the device probe and
// then reports the outcome in State; a missing capture session is a camera
// setup failure, not an error for the session.
func (c *Coordinator) StartCameraService(ctx context.Context) error {
	if c.deps.Camera == nil {
		return c.exec(ctx, func() {
			c.state.CameraError = "camera disabled"
		})
	}

	probeErr := c.deps.Camera.CreateCaptureSession(ctx)
	ready := c.deps.Camera.CaptureSession() != nil

	if err := c.exec(ctx, func() {
		c.state.CameraReady = ready
		if ready {
			c.state.CameraError = ""
			return
		}
		msg := "camera unavailable"
		if probeErr != nil {
			msg = probeErr.Error()
		}
		c.state.CameraError = msg
		log.Printf("session: camera setup failed: %s", msg)
	}); err != nil {
		return err
	}
	return probeErr
}

// PreviewAttached signals that the live preview is showing, which must
// happen before recording starts.
func (c *Coordinator) PreviewAttached() {
	c.previewOnce.Do(func() { close(c.preview) })
}

// StartRecording waits for PreviewAttached and then records video for the
// active session into video-<key>.mp4.
func (c *Coordinator) StartRecording(ctx context.Context) error {
	select {
	case <-c.preview:
	case <-ctx.Done():
		return ctx.Err()
	}

	var err error
	if e := c.exec(ctx, func() { err = c.startVideo() }); e != nil {
		return e
	}
	return err
}

func (c *Coordinator) startVideo() error {
	if c.phase != PhaseActive {
		return ErrNoSession
	}
	if c.deps.Camera == nil || c.deps.Camera.CaptureSession() == nil {
		return camera.ErrNoSession
	}
	if c.active.videoPath != "" {
		return camera.ErrRecording
	}
	path := filepath.Join(c.deps.Sink.WorkDir(), "video-"+c.active.key+".mp4")
	if err := c.deps.Camera.StartRecording(path); err != nil {
		c.state.CameraError = err.Error()
		return err
	}
	c.active.videoPath = path
	c.state.CameraRecording = true
	return nil
}

func (c *Coordinator) start(opts Options) error {
	if c.phase == PhaseActive || c.phase == PhaseEnding {
		return ErrSessionActive
	}
	c.drain()

	now := c.deps.Clock.Now()
	key := now.Format(KeyLayout)
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	s := &activeSession{id: id.String(), key: key, startedAt: now, opts: opts}

	// per-session state starts clean; camera readiness outlives sessions
	c.state = State{
		SessionKey:     key,
		SessionID:      s.id,
		StartedAt:      now,
		Classification: NoPrediction,
		CameraReady:    c.state.CameraReady,
		CameraError:    c.state.CameraError,
	}
	c.location, c.latestExt, c.prevPoll = nil, nil, nil

	var logErrs []string
	if h, err := c.deps.Sink.CreateFile(key, PrimaryHeader); err != nil {
		log.Printf("session: primary log unavailable, continuing without it: %v", err)
		logErrs = append(logErrs, err.Error())
	} else {
		s.primary = &logFile{handle: h}
	}
	if h, err := c.deps.Sink.CreateFile(key+"-accel", SecondaryHeader); err != nil {
		log.Printf("session: accelerometer log unavailable, continuing without it: %v", err)
		logErrs = append(logErrs, err.Error())
	} else {
		s.secondary = &logFile{handle: h}
	}
	if len(logErrs) > 0 {
		c.state.LoggingError = logErrs[0]
	}

	if c.deps.Location == nil {
		c.state.LocationError = "location unavailable"
	} else if err := c.deps.Location.Start(); err != nil {
		log.Printf("session: location start: %v", err)
		c.state.LocationError = err.Error()
	}

	if c.deps.Motion == nil {
		c.state.MotionError = "device accelerometer unavailable"
	} else if err := c.deps.Motion.Start(); err != nil {
		log.Printf("session: device motion start: %v", err)
		c.state.MotionError = err.Error()
	}

	c.startExternalIMU(opts)

	if c.deps.Audio == nil {
		c.state.RecordingError = "audio recording unavailable"
	} else if err := c.deps.Audio.StartRecording("audio-"+key, opts.Profile.PreferPredictions); err != nil {
		log.Printf("session: audio: %v", err)
		c.state.RecordingError = err.Error()
	} else {
		s.recordingAudio = true
	}

	c.watchdog = c.deps.Clock.NewTicker(c.settings.WatchdogInterval)
	c.active = s
	c.phase = PhaseActive
	log.Printf("session: started %s (id %s)", key, s.id)
	c.publishNow()
	return nil
}

// startExternalIMU connects best effort; a missing sensor is not fatal.
func (c *Coordinator) startExternalIMU(opts Options) {
	ext := c.deps.ExternalIMU
	if ext == nil {
		c.state.ExternalIMUError = "external sensor unavailable"
		return
	}
	if opts.Device != "" && opts.Device != ext.Device() {
		if err := ext.SetDevice(opts.Device); err != nil {
			log.Printf("session: external sensor select: %v", err)
		}
	}
	if err := ext.Connect(); err != nil {
		log.Printf("session: external sensor connect: %v", err)
		c.state.ExternalIMUError = err.Error()
		return
	}
	if err := ext.Start(); err != nil {
		log.Printf("session: external sensor start: %v", err)
		c.state.ExternalIMUError = err.Error()
	}
}

// drain discards events left over from a previous session.
func (c *Coordinator) drain() {
	for {
		select {
		case <-c.ev.fixes:
		case <-c.ev.vectors:
		case <-c.ev.samples:
		case <-c.ev.levels:
		case <-c.ev.spectrograms:
		case <-c.ev.audioErrs:
		case <-c.ev.labels:
		default:
			return
		}
	}
}

func (c *Coordinator) stop() {
	if c.phase != PhaseActive {
		return
	}
	c.phase = PhaseEnding
	c.publishNow()

	s := c.active
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}

	if c.deps.Location != nil {
		logErr("location stop", c.deps.Location.Stop())
	}
	if c.deps.Motion != nil {
		logErr("device motion stop", c.deps.Motion.Stop())
	}
	if c.deps.ExternalIMU != nil {
		logErr("external sensor stop", c.deps.ExternalIMU.Stop())
		logErr("external sensor disconnect", c.deps.ExternalIMU.Disconnect())
	}

	var finalizeErrs, artifacts []string
	persist := func(path string) {
		dest, err := c.deps.Sink.Persist(path)
		if err != nil {
			log.Printf("session: persist %s: %v", path, err)
			finalizeErrs = append(finalizeErrs, err.Error())
			return
		}
		artifacts = append(artifacts, dest)
	}

	var audioPath string
	if s.recordingAudio {
		path, err := c.deps.Audio.StopRecording()
		if err != nil {
			log.Printf("session: audio stop: %v", err)
			finalizeErrs = append(finalizeErrs, err.Error())
		}
		audioPath = path
	}

	// each file closes and persists on its own; one failure does not
	// keep the others out of history
	for _, f := range []*logFile{s.primary, s.secondary} {
		if f == nil {
			continue
		}
		if err := c.deps.Sink.Close(f.handle); err != nil {
			log.Printf("session: close %s: %v", f.handle, err)
			finalizeErrs = append(finalizeErrs, err.Error())
		}
		path, err := c.deps.Sink.Path(f.handle)
		if err != nil {
			finalizeErrs = append(finalizeErrs, err.Error())
			continue
		}
		persist(path)
	}
	if audioPath != "" {
		persist(audioPath)
	}

	if c.deps.Camera != nil && c.deps.Camera.Recording() {
		ctx, cancel := context.WithTimeout(context.Background(), c.settings.CameraStopTimeout)
		path, err := c.deps.Camera.StopRecording(ctx)
		cancel()
		c.state.CameraRecording = false
		if err != nil {
			log.Printf("session: camera stop: %v", err)
			finalizeErrs = append(finalizeErrs, err.Error())
		}
		if path != "" {
			if _, statErr := os.Stat(path); statErr == nil {
				persist(path)
			}
		}
	}

	meta := Metadata{
		ID:        s.id,
		Key:       s.key,
		StartedAt: s.startedAt,
		StoppedAt: c.deps.Clock.Now(),
		Profile:   s.opts.Profile,
		Rows:      c.state.Rows,
		Artifacts: artifacts,
	}
	if c.deps.ExternalIMU != nil {
		meta.Device = c.deps.ExternalIMU.Device()
	}
	meta.FinalizeErrors = finalizeErrs
	if path, err := writeMetadata(c.deps.Sink.WorkDir(), meta); err != nil {
		log.Printf("session: %v", err)
		finalizeErrs = append(finalizeErrs, err.Error())
	} else {
		persist(path)
	}

	c.state.FinalizeErrors = finalizeErrs
	c.state.Artifacts = artifacts
	c.state.ExternalConnected = false
	c.active = nil
	c.phase = PhaseClosed
	if len(finalizeErrs) > 0 {
		log.Printf("session: stopped %s with %d finalize error(s)", s.key, len(finalizeErrs))
	} else {
		log.Printf("session: stopped %s, %d artifact(s) saved", s.key, len(artifacts))
	}
	c.publishNow()
}

func logErr(what string, err error) {
	if err != nil {
		log.Printf("session: %s: %v", what, err)
	}
}

func (c *Coordinator) onLocation(fix gps.Fix) {
	if c.phase != PhaseActive {
		return
	}
	c.location = &fix
	c.state.Location = &fix
}

func (c *Coordinator) onExternalIMU(s imu.Sample) {
	if c.phase != PhaseActive {
		return
	}
	v := s.Vector
	c.latestExt = &v
	c.state.ExternalIMU = &v
	c.state.SignalStrength = s.RSSI
	c.appendPrimary(v)
}

func (c *Coordinator) onDeviceMotion(v imu.Vector) {
	if c.phase != PhaseActive {
		return
	}
	c.state.DeviceAccel = &v
	if c.location == nil {
		return
	}
	now := c.deps.Clock.Now()
	if f := c.active.secondary; f != nil {
		row := secondaryRow(now, now.Sub(c.active.startedAt), v)
		if err := c.deps.Sink.Append(f.handle, row); err != nil {
			log.Printf("session: accelerometer row dropped: %v", err)
		} else {
			f.rows++
			c.state.Rows.Secondary = f.rows
		}
	}
	if c.active.opts.DeviceMotionFallback && !c.state.ExternalConnected {
		c.appendPrimary(v)
	}
}

// appendPrimary writes a primary row when a location is known.
func (c *Coordinator) appendPrimary(v imu.Vector) {
	f := c.active.primary
	if f == nil || c.location == nil {
		return
	}
	now := c.deps.Clock.Now()
	label := NoPrediction
	if c.active.opts.Profile.PreferPredictions {
		label = c.state.Classification
	}
	row := primaryRow(now, now.Sub(c.active.startedAt), v, *c.location, label)
	if err := c.deps.Sink.Append(f.handle, row); err != nil {
		log.Printf("session: row dropped: %v", err)
		return
	}
	f.rows++
	c.state.Rows.Primary = f.rows
}

func (c *Coordinator) onDecibels(db int) {
	if c.phase != PhaseActive {
		return
	}
	c.state.Decibels = &db
}

func (c *Coordinator) onSpectrogram(spec audio.Spectrogram) {
	if c.phase != PhaseActive || c.deps.Predictor == nil {
		return
	}
	c.deps.Predictor.Submit(spec)
}

func (c *Coordinator) onClassificationError(err error) {
	if c.phase != PhaseActive {
		return
	}
	log.Printf("session: classification: %v", err)
	c.state.ClassificationError = err.Error()
}

func (c *Coordinator) onPrediction(label string) {
	if c.phase != PhaseActive {
		return
	}
	c.state.Classification = label
	c.state.ClassificationError = ""
}

// pollWatchdog infers external sensor liveness from whether its vector
// changed since the previous poll. A sensor that truly reports the same
// vector for a whole period is also marked disconnected.
func (c *Coordinator) pollWatchdog() {
	if c.phase != PhaseActive {
		return
	}
	c.state.WatchdogPolls++

	latest, prev := c.latestExt, c.prevPoll
	c.prevPoll = latest
	if latest == nil {
		// nothing received yet
		return
	}

	if prev != nil && *prev == *latest {
		if c.state.ExternalConnected {
			log.Printf("session: external sensor silent, attempting reconnect")
		}
		c.state.ExternalConnected = false
		if err := c.deps.ExternalIMU.Connect(); err != nil {
			log.Printf("session: external sensor reconnect: %v", err)
		}
		return
	}
	if !c.state.ExternalConnected {
		log.Printf("session: external sensor connected")
	}
	c.state.ExternalConnected = true
}
