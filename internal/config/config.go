// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDLogger  string
	MQTTClientIDConsole string
	MQTTClientIDWeb     string
	MQTTClientIDDisplay string

	// Topics
	TopicSessionState      string
	TopicExternalIMUPrefix string

	// External IMU
	ExternalIMUDevice string

	// GPS
	GPSSerialPort string
	GPSBaudRate   int

	// Device accelerometer (MPU9250 over SPI)
	IMUSPIDevice   string
	IMUCSPin       string
	MotionInterval int // milliseconds

	// Storage
	WorkDir    string
	HistoryDir string
	SettingsDB string

	// Audio and classification; an empty ClassifyURL disables classification
	AudioSampleRate int
	ClassifyURL     string
	ClassifyToken   string
	ModelPath       string

	// Camera
	CameraEnabled     bool
	CameraBinary      string
	CameraDevice      string
	CameraStopTimeout int // milliseconds

	// Session
	WatchdogInterval     int // milliseconds
	StatePublishInterval int // milliseconds
	DeviceMotionFallback bool
	ProfilePath          string

	// Upload
	UploadBaseURL     string
	UploadToken       string
	UploadUser        string
	UploadPrefix      string
	UploadConcurrency int

	// Web Server
	WebServerPort int

	// Display
	DisplayI2CBus         string
	DisplayRotated        bool
	DisplayUpdateInterval int // milliseconds
}

// globalConfig is only reachable through InitGlobal and Get. configOnce makes
// InitGlobal load at most once; configMu lets many readers share Get.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the values used for keys the file does not set.
func Default() *Config {
	return &Config{
		MQTTClientIDLogger:     "cane-logger",
		MQTTClientIDConsole:    "cane-console",
		MQTTClientIDWeb:        "cane-web",
		MQTTClientIDDisplay:    "cane-display",
		TopicSessionState:      "cane/session/state",
		TopicExternalIMUPrefix: "cane/imu",
		GPSBaudRate:            9600,
		MotionInterval:         20,
		AudioSampleRate:        44100,
		CameraBinary:           "ffmpeg",
		CameraDevice:           "/dev/video0",
		CameraStopTimeout:      30000,
		WatchdogInterval:       3000,
		StatePublishInterval:   500,
		UploadPrefix:           "CaneLogger",
		UploadConcurrency:      2,
		WebServerPort:          8080,
		DisplayI2CBus:          "1",
		DisplayUpdateInterval:  500,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseMillis(key, value string) (int, error) {
	ms, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if ms <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, ms)
	}
	return ms, nil
}

func parseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_LOGGER":
		c.MQTTClientIDLogger = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_SESSION_STATE":
		c.TopicSessionState = value
	case "TOPIC_EXTERNAL_IMU_PREFIX":
		c.TopicExternalIMUPrefix = strings.TrimRight(value, "/")

	// External IMU
	case "EXTERNAL_IMU_DEVICE":
		c.ExternalIMUDevice = value

	// GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GPS_BAUD_RATE %q: %w", value, err)
		}
		c.GPSBaudRate = rate

	// Device accelerometer
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "MOTION_INTERVAL":
		c.MotionInterval, err = parseMillis(key, value)

	// Storage
	case "WORK_DIR":
		c.WorkDir = value
	case "HISTORY_DIR":
		c.HistoryDir = value
	case "SETTINGS_DB":
		c.SettingsDB = value

	// Audio and classification
	case "AUDIO_SAMPLE_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid AUDIO_SAMPLE_RATE %q: %w", value, err)
		}
		if rate < 8000 || rate > 192000 {
			return fmt.Errorf("AUDIO_SAMPLE_RATE must be 8000-192000, got %d", rate)
		}
		c.AudioSampleRate = rate
	case "CLASSIFY_URL":
		c.ClassifyURL = value
	case "CLASSIFY_TOKEN":
		c.ClassifyToken = value
	case "MODEL_PATH":
		c.ModelPath = value

	// Camera
	case "CAMERA_ENABLED":
		c.CameraEnabled, err = parseBool(key, value)
	case "CAMERA_BINARY":
		c.CameraBinary = value
	case "CAMERA_DEVICE":
		c.CameraDevice = value
	case "CAMERA_STOP_TIMEOUT":
		c.CameraStopTimeout, err = parseMillis(key, value)

	// Session
	case "WATCHDOG_INTERVAL":
		c.WatchdogInterval, err = parseMillis(key, value)
	case "STATE_PUBLISH_INTERVAL":
		c.StatePublishInterval, err = parseMillis(key, value)
	case "DEVICE_MOTION_FALLBACK":
		c.DeviceMotionFallback, err = parseBool(key, value)
	case "PROFILE_PATH":
		c.ProfilePath = value

	// Upload
	case "UPLOAD_BASE_URL":
		c.UploadBaseURL = value
	case "UPLOAD_TOKEN":
		c.UploadToken = value
	case "UPLOAD_USER":
		c.UploadUser = value
	case "UPLOAD_PREFIX":
		c.UploadPrefix = value
	case "UPLOAD_CONCURRENCY":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid UPLOAD_CONCURRENCY %q: %w", value, err)
		}
		if n < 1 || n > 16 {
			return fmt.Errorf("UPLOAD_CONCURRENCY must be 1-16, got %d", n)
		}
		c.UploadConcurrency = n

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_ROTATED":
		c.DisplayRotated, err = parseBool(key, value)
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseMillis(key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.GPSSerialPort == "" {
		return fmt.Errorf("GPS_SERIAL_PORT is required")
	}
	if c.IMUSPIDevice == "" {
		return fmt.Errorf("IMU_SPI_DEVICE is required")
	}
	if c.IMUCSPin == "" {
		return fmt.Errorf("IMU_CS_PIN is required")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("WORK_DIR is required")
	}
	if c.HistoryDir == "" {
		return fmt.Errorf("HISTORY_DIR is required")
	}
	if c.SettingsDB == "" {
		return fmt.Errorf("SETTINGS_DB is required")
	}
	return nil
}

// Millis converts a millisecond config value to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// InitGlobal loads the configuration once; later calls return the first
// result's error (nil after a successful load).
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
