// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/cane_logger/internal/audio"
	"github.com/relabs-tech/cane_logger/internal/camera"
	"github.com/relabs-tech/cane_logger/internal/config"
	"github.com/relabs-tech/cane_logger/internal/extimu"
	"github.com/relabs-tech/cane_logger/internal/gps"
	"github.com/relabs-tech/cane_logger/internal/logsink"
	"github.com/relabs-tech/cane_logger/internal/predict"
	"github.com/relabs-tech/cane_logger/internal/sensors"
	"github.com/relabs-tech/cane_logger/internal/session"
	"github.com/relabs-tech/cane_logger/internal/settings"
	"github.com/relabs-tech/cane_logger/internal/upload"
)

// RunLogger records one session from start-up until SIGINT/SIGTERM, then
// finalizes it and, when an upload target is configured, uploads history.
func RunLogger() error {
	cfg := config.Get()

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return err
	}
	log.Printf("logger: profile cane=%q weather=%q bed=%q area=%q predictions=%v",
		profile.CaneType, profile.Weather, profile.TestBed, profile.AreaCode, profile.PreferPredictions)

	store, err := settings.OpenSQLite(cfg.SettingsDB)
	if err != nil {
		return err
	}
	defer store.Close()

	sink, err := logsink.New(cfg.WorkDir, cfg.HistoryDir, store)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.CloseAll(); err != nil {
			log.Printf("logger: close logs: %v", err)
		}
	}()

	var broker extimu.Broker
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDLogger)
	if err != nil {
		log.Printf("logger: %v; external sensor and state publishing disabled", err)
	} else {
		defer client.Disconnect(250)
		log.Printf("logger: connected to MQTT broker at %s", cfg.MQTTBroker)
		broker = client
	}

	deps, predictor := buildDeps(cfg, broker, sink)
	if client != nil {
		deps.Publisher = NewStatePublisher(client, cfg.TopicSessionState)
	}

	coord, err := session.New(deps, coordinatorSettings(cfg))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- coord.Run(ctx) }()
	go predictor.Run(ctx)

	sigCh, stopSignals := shutdownSignals()
	defer stopSignals()

	if cfg.CameraEnabled {
		if err := coord.StartCameraService(ctx); err != nil {
			log.Printf("logger: camera: %v", err)
		}
	}

	if err := coord.StartSession(ctx, sessionOptions(cfg, profile)); err != nil {
		return err
	}
	for _, e := range stateErrors(coord.Snapshot()) {
		log.Printf("logger: WARNING: %s", e)
	}

	if coord.Snapshot().CameraReady {
		// the logger has no preview surface; recording may begin right away
		coord.PreviewAttached()
		if err := coord.StartRecording(ctx); err != nil {
			log.Printf("logger: video recording: %v", err)
		}
	}

	<-sigCh

	log.Println("logger: stopping session")
	if err := coord.StopSession(ctx); err != nil {
		return err
	}
	final := coord.Snapshot()
	for _, a := range final.Artifacts {
		log.Printf("logger: saved %s", a)
	}
	for _, e := range final.FinalizeErrors {
		log.Printf("logger: NOT SAVED: %s", e)
	}

	cancel()
	if err := <-runErr; err != nil {
		return err
	}

	if cfg.UploadBaseURL != "" {
		uctx, ucancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer ucancel()
		res, err := uploadHistory(uctx, cfg, sink)
		log.Printf("logger: uploaded %d file(s), %d failed", len(res.Uploaded), len(res.Failed))
		if err != nil {
			log.Printf("logger: upload: %v", err)
		}
	}
	return nil
}

// shutdownSignals starts catching SIGINT/SIGTERM.
func shutdownSignals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

// buildDeps opens every stream the rig has. A stream that cannot be opened
// is left nil and reported by the coordinator when the session starts.
// A nil broker leaves the external sensor out.
func buildDeps(cfg *config.Config, broker extimu.Broker, sink *logsink.Sink) (session.Deps, *predict.Service) {
	deps := session.Deps{Sink: sink}

	deps.Location = gps.NewStream(gps.SerialOpener(cfg.GPSSerialPort, cfg.GPSBaudRate), time.Now)

	if reader, err := sensors.NewMPU9250Reader(cfg.IMUSPIDevice, cfg.IMUCSPin); err != nil {
		log.Printf("logger: device accelerometer unavailable: %v", err)
	} else {
		deps.Motion = sensors.NewMotionStream(reader, nil, config.Millis(cfg.MotionInterval))
	}

	if broker != nil {
		ext := extimu.NewStream(broker, cfg.TopicExternalIMUPrefix, time.Now)
		if cfg.ExternalIMUDevice != "" {
			if err := ext.SetDevice(cfg.ExternalIMUDevice); err != nil {
				log.Printf("logger: external sensor select: %v", err)
			}
		}
		deps.ExternalIMU = ext
	}

	var classifier audio.Classifier
	if cfg.ClassifyURL != "" {
		classifier = audio.NewHTTPClassifier(cfg.ClassifyURL, cfg.ClassifyToken)
	}
	deps.Audio = audio.NewPipeline(audio.NewMalgoCapturer(cfg.AudioSampleRate), classifier, cfg.WorkDir, nil)

	var model predict.Model
	if cfg.ModelPath == "" {
		log.Printf("logger: no MODEL_PATH, predictions will read %q", predict.ErrorLabel)
	} else if m, err := predict.LoadLinearModel(cfg.ModelPath); err != nil {
		log.Printf("logger: model unavailable: %v", err)
	} else {
		model = m
	}
	svc := predict.NewService(model)
	deps.Predictor = svc

	if cfg.CameraEnabled {
		deps.Camera = camera.NewRecorder(cfg.CameraBinary, cfg.CameraDevice)
	}
	return deps, svc
}

func coordinatorSettings(cfg *config.Config) session.Settings {
	return session.Settings{
		WatchdogInterval:  config.Millis(cfg.WatchdogInterval),
		PublishInterval:   config.Millis(cfg.StatePublishInterval),
		CameraStopTimeout: config.Millis(cfg.CameraStopTimeout),
	}
}

func sessionOptions(cfg *config.Config, profile config.Profile) session.Options {
	return session.Options{
		Profile:              profile,
		Device:               cfg.ExternalIMUDevice,
		DeviceMotionFallback: cfg.DeviceMotionFallback,
	}
}

func uploadHistory(ctx context.Context, cfg *config.Config, history upload.History) (upload.Result, error) {
	if cfg.UploadBaseURL == "" {
		return upload.Result{}, fmt.Errorf("upload: UPLOAD_BASE_URL is not set")
	}
	u := upload.NewHistoryUploader(history,
		upload.NewHTTPUploader(cfg.UploadBaseURL, cfg.UploadToken),
		cfg.UploadPrefix, cfg.UploadConcurrency)
	return u.UploadAll(ctx, cfg.UploadUser)
}
