package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT (optional: empty broker disables telemetry)
	MQTTBroker          string
	MQTTClientIDRig     string
	MQTTClientIDConsole string
	MQTTClientIDWeb     string

	// Topics
	TopicForce  string
	TopicStatus string

	// GPIO lines (periph names, e.g. "GPIO2")
	DataPin   string
	ClockPin  string
	RPWMPin   string
	LPWMPin   string
	EnablePin string

	// Load cell calibration (raw counts -> pounds)
	CalibrationScale  float64
	CalibrationOffset float64
	NoiseFactor       float64

	// Sampler
	SamplesPerReading int
	SamplePeriodMS    int
	ReadyTimeoutMS    int // 0 = wait unboundedly for chip ready
	PowerCycleRetries int
	HX711Verbose      bool

	// Motion loop
	PWMFrequencyHz    int
	SafetyThresholdLb float64

	// Feedback controller
	FeedbackToleranceLb          float64
	FeedbackPollIntervalMS       int
	FeedbackMaxSeconds           float64
	FeedbackKp                   float64
	FeedbackRetractOnPositiveErr bool

	// Test sequence
	TargetForcesLb []float64
	Repetitions    int
	LogIntervalMS  int
	OutputDir      string

	// Web Server
	WebServerPort int
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported so other packages cannot access it directly.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access.
//
// External code must use InitGlobal() to set and Get() to read, ensuring thread safety.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
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

// defaults returns a Config pre-filled with the values the rig was tuned
// with. Anything hardware-specific (pins, calibration) must still come from
// the config file.
func defaults() *Config {
	return &Config{
		TopicForce:  "autopusher/force",
		TopicStatus: "autopusher/status",

		NoiseFactor:       1.0,
		SamplesPerReading: 1,
		SamplePeriodMS:    10,
		PowerCycleRetries: 3,

		PWMFrequencyHz:    50,
		SafetyThresholdLb: -100,

		FeedbackToleranceLb:          0.05,
		FeedbackPollIntervalMS:       50,
		FeedbackMaxSeconds:           1.0,
		FeedbackKp:                   0.005,
		FeedbackRetractOnPositiveErr: true,

		Repetitions:   1,
		LogIntervalMS: 10,
		OutputDir:     ".",

		WebServerPort: 8080,
	}
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_RIG":
		c.MQTTClientIDRig = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value

	// Topics
	case "TOPIC_FORCE":
		c.TopicForce = value
	case "TOPIC_STATUS":
		c.TopicStatus = value

	// GPIO lines
	case "DATA_PIN":
		c.DataPin = value
	case "CLOCK_PIN":
		c.ClockPin = value
	case "RPWM_PIN":
		c.RPWMPin = value
	case "LPWM_PIN":
		c.LPWMPin = value
	case "ENABLE_PIN":
		c.EnablePin = value

	// Calibration
	case "CALIBRATION_SCALE":
		scale, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid CALIBRATION_SCALE %q: %w", value, err)
		}
		c.CalibrationScale = scale
	case "CALIBRATION_OFFSET":
		offset, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid CALIBRATION_OFFSET %q: %w", value, err)
		}
		c.CalibrationOffset = offset
	case "NOISE_FACTOR":
		nf, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid NOISE_FACTOR %q: %w", value, err)
		}
		if nf <= 0 {
			return fmt.Errorf("NOISE_FACTOR must be > 0, got %v", nf)
		}
		c.NoiseFactor = nf

	// Sampler
	case "SAMPLES_PER_READING":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SAMPLES_PER_READING %q: %w", value, err)
		}
		if n < 1 {
			return fmt.Errorf("SAMPLES_PER_READING must be >= 1, got %d", n)
		}
		c.SamplesPerReading = n
	case "SAMPLE_PERIOD_MS":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SAMPLE_PERIOD_MS %q: %w", value, err)
		}
		c.SamplePeriodMS = interval
	case "READY_TIMEOUT_MS":
		timeout, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid READY_TIMEOUT_MS %q: %w", value, err)
		}
		if timeout < 0 {
			return fmt.Errorf("READY_TIMEOUT_MS must be >= 0, got %d", timeout)
		}
		c.ReadyTimeoutMS = timeout
	case "POWER_CYCLE_RETRIES":
		retries, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid POWER_CYCLE_RETRIES %q: %w", value, err)
		}
		if retries < 0 {
			return fmt.Errorf("POWER_CYCLE_RETRIES must be >= 0, got %d", retries)
		}
		c.PowerCycleRetries = retries
	case "HX711_VERBOSE":
		verbose, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid HX711_VERBOSE %q: %w", value, err)
		}
		c.HX711Verbose = verbose

	// Motion loop
	case "PWM_FREQUENCY_HZ":
		freq, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid PWM_FREQUENCY_HZ %q: %w", value, err)
		}
		if freq < 1 {
			return fmt.Errorf("PWM_FREQUENCY_HZ must be >= 1, got %d", freq)
		}
		c.PWMFrequencyHz = freq
	case "SAFETY_THRESHOLD_LB":
		threshold, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid SAFETY_THRESHOLD_LB %q: %w", value, err)
		}
		if threshold > 0 {
			return fmt.Errorf("SAFETY_THRESHOLD_LB must be <= 0 (compression is negative), got %v", threshold)
		}
		c.SafetyThresholdLb = threshold

	// Feedback controller
	case "FEEDBACK_TOLERANCE_LB":
		tol, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid FEEDBACK_TOLERANCE_LB %q: %w", value, err)
		}
		if tol < 0 {
			return fmt.Errorf("FEEDBACK_TOLERANCE_LB must be >= 0, got %v", tol)
		}
		c.FeedbackToleranceLb = tol
	case "FEEDBACK_POLL_INTERVAL_MS":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid FEEDBACK_POLL_INTERVAL_MS %q: %w", value, err)
		}
		c.FeedbackPollIntervalMS = interval
	case "FEEDBACK_MAX_SECONDS":
		seconds, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid FEEDBACK_MAX_SECONDS %q: %w", value, err)
		}
		c.FeedbackMaxSeconds = seconds
	case "FEEDBACK_KP":
		kp, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid FEEDBACK_KP %q: %w", value, err)
		}
		if kp <= 0 {
			return fmt.Errorf("FEEDBACK_KP must be > 0, got %v", kp)
		}
		c.FeedbackKp = kp
	case "FEEDBACK_RETRACT_ON_POSITIVE_ERROR":
		retract, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid FEEDBACK_RETRACT_ON_POSITIVE_ERROR %q: %w", value, err)
		}
		c.FeedbackRetractOnPositiveErr = retract

	// Test sequence
	case "TARGET_FORCES_LB":
		targets, err := parseFloatList(value)
		if err != nil {
			return fmt.Errorf("invalid TARGET_FORCES_LB %q: %w", value, err)
		}
		c.TargetForcesLb = targets
	case "REPETITIONS":
		reps, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid REPETITIONS %q: %w", value, err)
		}
		if reps < 1 {
			return fmt.Errorf("REPETITIONS must be >= 1, got %d", reps)
		}
		c.Repetitions = reps
	case "LOG_INTERVAL_MS":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid LOG_INTERVAL_MS %q: %w", value, err)
		}
		if interval < 1 {
			return fmt.Errorf("LOG_INTERVAL_MS must be >= 1, got %d", interval)
		}
		c.LogIntervalMS = interval
	case "OUTPUT_DIR":
		c.OutputDir = value

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// parseFloatList parses a comma-separated list of floats, e.g. "-1,-2,-3".
func parseFloatList(value string) ([]float64, error) {
	fields := strings.Split(value, ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("bad element %q: %w", f, err)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty list")
	}
	return out, nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.DataPin == "" {
		return fmt.Errorf("DATA_PIN is required")
	}
	if c.ClockPin == "" {
		return fmt.Errorf("CLOCK_PIN is required")
	}
	if c.RPWMPin == "" {
		return fmt.Errorf("RPWM_PIN is required")
	}
	if c.LPWMPin == "" {
		return fmt.Errorf("LPWM_PIN is required")
	}
	if c.EnablePin == "" {
		return fmt.Errorf("ENABLE_PIN is required")
	}
	if c.CalibrationScale == 0 {
		return fmt.Errorf("CALIBRATION_SCALE is required and must be non-zero")
	}
	if len(c.TargetForcesLb) == 0 {
		return fmt.Errorf("TARGET_FORCES_LB is required")
	}
	if c.SamplePeriodMS <= 0 {
		return fmt.Errorf("SAMPLE_PERIOD_MS must be > 0")
	}
	if c.FeedbackPollIntervalMS <= 0 {
		return fmt.Errorf("FEEDBACK_POLL_INTERVAL_MS must be > 0")
	}
	if c.FeedbackMaxSeconds <= 0 {
		return fmt.Errorf("FEEDBACK_MAX_SECONDS must be > 0")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
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
