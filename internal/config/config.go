// Package config builds the appliance configuration from defaults, an optional
// YAML file, a .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate when a setting is out of range.
var ErrInvalid = errors.New("invalid configuration")

// Camera holds frame source settings.
type Camera struct {
	Index        int           `yaml:"index"`
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	StillWidth   int           `yaml:"still_width"`
	StillHeight  int           `yaml:"still_height"`
	Cooldown     time.Duration `yaml:"cooldown"`
	InitRounds   int           `yaml:"init_rounds"`
	SettleDelay  time.Duration `yaml:"settle_delay"`
	OpenTimeout  time.Duration `yaml:"open_timeout"`
	FrameTimeout time.Duration `yaml:"frame_timeout"`
	StillTimeout time.Duration `yaml:"still_timeout"`
	ReprobeAfter int           `yaml:"reprobe_after"`
}

// Gesture holds classifier and debounce settings.
type Gesture struct {
	Mode           string  `yaml:"mode"`
	Threshold      float64 `yaml:"threshold"`
	RequiredFrames int     `yaml:"required_frames"`
	ModelScript    string  `yaml:"model_script"`
	LabelsPath     string  `yaml:"labels_path"`
	HandScript     string  `yaml:"hand_script"`
	Python         string  `yaml:"python"`
}

// Cycle holds capture cycle timing.
type Cycle struct {
	Countdown      time.Duration `yaml:"countdown"`
	CountdownTick  time.Duration `yaml:"countdown_tick"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxErrors      float64       `yaml:"max_errors"`
	ErrorDecay     float64       `yaml:"error_decay"`
	PhotoDir       string        `yaml:"photo_dir"`
	PoemDir        string        `yaml:"poem_dir"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`
}

// Trigger holds interrupt source settings.
type Trigger struct {
	Source           string        `yaml:"source"`
	ButtonPin        string        `yaml:"button_pin"`
	Debounce         time.Duration `yaml:"debounce"`
	SimulateDelay    time.Duration `yaml:"simulate_delay"`
	SimulateInterval time.Duration `yaml:"simulate_interval"`
}

// Feedback holds cue output pins.
type Feedback struct {
	LEDPin    string `yaml:"led_pin"`
	BuzzerPin string `yaml:"buzzer_pin"`
}

// Service describes one chat-completion style HTTP collaborator.
type Service struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"-"`
	Model  string `yaml:"model"`
}

// Poem holds analysis and poem collaborator settings.
type Poem struct {
	Analysis   Service       `yaml:"analysis"`
	Generation Service       `yaml:"generation"`
	Command    string        `yaml:"command"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Printer holds receipt printer settings.
type Printer struct {
	Enabled bool   `yaml:"enabled"`
	Device  string `yaml:"device"`
	Width   int    `yaml:"width"`
}

// Remote holds MQTT settings. An empty Broker disables MQTT.
type Remote struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// Config is the complete appliance configuration.
type Config struct {
	DataDir   string   `yaml:"data_dir"`
	HTTPAddr  string   `yaml:"http_addr"`
	UI        string   `yaml:"ui"`
	LogLevel  string   `yaml:"log_level"`
	LogFormat string   `yaml:"log_format"`
	Camera    Camera   `yaml:"camera"`
	Gesture   Gesture  `yaml:"gesture"`
	Cycle     Cycle    `yaml:"cycle"`
	Trigger   Trigger  `yaml:"trigger"`
	Feedback  Feedback `yaml:"feedback"`
	Poem      Poem     `yaml:"poem"`
	Printer   Printer  `yaml:"printer"`
	Remote    Remote   `yaml:"remote"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		DataDir:   defaultDataDir(),
		HTTPAddr:  ":8080",
		UI:        "tui",
		LogLevel:  "info",
		LogFormat: "text",
		Camera: Camera{
			Index:        0,
			Width:        800,
			Height:       600,
			StillWidth:   1920,
			StillHeight:  1080,
			Cooldown:     5 * time.Second,
			InitRounds:   3,
			SettleDelay:  3 * time.Second,
			OpenTimeout:  5 * time.Second,
			FrameTimeout: 2 * time.Second,
			StillTimeout: 6 * time.Second,
		},
		Gesture: Gesture{
			Mode:           "manual",
			Threshold:      95,
			RequiredFrames: 3,
			ModelScript:    "scripts/model_service.py",
			LabelsPath:     "model/labels.txt",
			HandScript:     "scripts/hand_service.py",
			Python:         "python3",
		},
		Cycle: Cycle{
			Countdown:      5 * time.Second,
			CountdownTick:  300 * time.Millisecond,
			PollInterval:   100 * time.Millisecond,
			MaxErrors:      10,
			ErrorDecay:     0.1,
			PhotoDir:       "photos",
			PoemDir:        filepath.Join("photos", "poems"),
			ProcessTimeout: 2 * time.Minute,
		},
		Trigger: Trigger{
			Source:           "auto",
			ButtonPin:        "GPIO16",
			Debounce:         300 * time.Millisecond,
			SimulateDelay:    60 * time.Second,
			SimulateInterval: 90 * time.Second,
		},
		Feedback: Feedback{
			LEDPin:    "GPIO13",
			BuzzerPin: "GPIO5",
		},
		Poem: Poem{
			Analysis: Service{
				URL:   "https://api.openai.com/v1/chat/completions",
				Model: "gpt-4o-mini",
			},
			Generation: Service{
				URL:   "https://api.deepseek.com/v1/chat/completions",
				Model: "deepseek-chat",
			},
			Retries:    3,
			RetryDelay: 2 * time.Second,
			Timeout:    30 * time.Second,
		},
		Printer: Printer{
			Enabled: true,
			Device:  "/dev/usb/lp0",
			Width:   32,
		},
		Remote: Remote{
			Topic:    "poetrycam",
			ClientID: "poetrycam",
		},
	}
}

// Load reads the YAML file at path (if any), then .env, then the environment.
// An empty path falls back to $POETRYCAM_CONFIG.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("POETRYCAM_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("config: failed to load .env", "error", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.UI = getEnv("UI", c.UI)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.Camera.Index = getEnvInt("CAMERA_INDEX", c.Camera.Index)
	c.Camera.Width = getEnvInt("FRAME_WIDTH", c.Camera.Width)
	c.Camera.Height = getEnvInt("FRAME_HEIGHT", c.Camera.Height)
	c.Camera.StillWidth = getEnvInt("STILL_WIDTH", c.Camera.StillWidth)
	c.Camera.StillHeight = getEnvInt("STILL_HEIGHT", c.Camera.StillHeight)
	c.Camera.Cooldown = getEnvDuration("CAMERA_COOLDOWN", c.Camera.Cooldown)

	c.Gesture.Mode = getEnv("MODE", c.Gesture.Mode)
	c.Gesture.Threshold = getEnvFloat("GESTURE_CONFIDENCE_THRESHOLD", c.Gesture.Threshold)
	c.Gesture.RequiredFrames = getEnvInt("GESTURE_DETECTION_FRAMES", c.Gesture.RequiredFrames)
	c.Gesture.LabelsPath = getEnv("LABELS_PATH", c.Gesture.LabelsPath)
	c.Gesture.Python = getEnv("PYTHON", c.Gesture.Python)

	c.Cycle.Countdown = getEnvDuration("COUNTDOWN", c.Cycle.Countdown)
	c.Cycle.PhotoDir = getEnv("PHOTO_DIR", c.Cycle.PhotoDir)
	c.Cycle.PoemDir = getEnv("POEM_DIR", c.Cycle.PoemDir)

	c.Trigger.Source = getEnv("TRIGGER", c.Trigger.Source)
	c.Trigger.ButtonPin = getEnvPin("BUTTON_PIN", c.Trigger.ButtonPin)
	c.Trigger.Debounce = getEnvDuration("DEBOUNCE", c.Trigger.Debounce)
	c.Trigger.SimulateDelay = getEnvDuration("SIMULATE_DELAY", c.Trigger.SimulateDelay)
	c.Trigger.SimulateInterval = getEnvDuration("SIMULATE_INTERVAL", c.Trigger.SimulateInterval)

	c.Feedback.LEDPin = getEnvPin("LED_PIN", c.Feedback.LEDPin)
	c.Feedback.BuzzerPin = getEnvPin("BUZZER_PIN", c.Feedback.BuzzerPin)

	c.Poem.Analysis.APIKey = getEnv("OPENAI_API_KEY", c.Poem.Analysis.APIKey)
	c.Poem.Analysis.Model = getEnv("OPENAI_MODEL", c.Poem.Analysis.Model)
	c.Poem.Analysis.URL = getEnv("OPENAI_API_URL", c.Poem.Analysis.URL)
	c.Poem.Generation.APIKey = getEnv("DEEPSEEK_API_KEY", c.Poem.Generation.APIKey)
	c.Poem.Generation.Model = getEnv("DEEPSEEK_MODEL", c.Poem.Generation.Model)
	c.Poem.Generation.URL = getEnv("DEEPSEEK_API_URL", c.Poem.Generation.URL)
	c.Poem.Command = getEnv("POEM_COMMAND", c.Poem.Command)
	c.Poem.Retries = getEnvInt("API_RETRIES", c.Poem.Retries)
	c.Poem.RetryDelay = getEnvDuration("API_RETRY_DELAY", c.Poem.RetryDelay)
	c.Poem.Timeout = getEnvDuration("API_TIMEOUT", c.Poem.Timeout)

	c.Printer.Enabled = getEnvBool("PRINTER_ENABLED", c.Printer.Enabled)
	c.Printer.Device = getEnv("PRINTER_DEVICE", c.Printer.Device)

	c.Remote.Broker = getEnv("MQTT_BROKER", c.Remote.Broker)
	c.Remote.Topic = getEnv("MQTT_TOPIC", c.Remote.Topic)
}

// Validate checks that the configuration can drive the appliance.
func (c Config) Validate() error {
	switch {
	case c.Camera.Width <= 0 || c.Camera.Height <= 0:
		return fmt.Errorf("%w: frame size %dx%d", ErrInvalid, c.Camera.Width, c.Camera.Height)
	case c.Camera.StillWidth <= 0 || c.Camera.StillHeight <= 0:
		return fmt.Errorf("%w: still size %dx%d", ErrInvalid, c.Camera.StillWidth, c.Camera.StillHeight)
	case c.Gesture.Threshold < 0 || c.Gesture.Threshold > 100:
		return fmt.Errorf("%w: confidence threshold %.1f not in 0-100", ErrInvalid, c.Gesture.Threshold)
	case c.Gesture.RequiredFrames < 1:
		return fmt.Errorf("%w: required frames must be at least 1", ErrInvalid)
	case c.Cycle.Countdown < 0:
		return fmt.Errorf("%w: negative countdown", ErrInvalid)
	case c.Cycle.PollInterval <= 0 || c.Cycle.CountdownTick <= 0:
		return fmt.Errorf("%w: poll interval and countdown tick must be positive", ErrInvalid)
	case c.Cycle.MaxErrors <= 0:
		return fmt.Errorf("%w: max errors must be positive", ErrInvalid)
	case c.Poem.Retries < 1:
		return fmt.Errorf("%w: api retries must be at least 1", ErrInvalid)
	}

	switch c.Trigger.Source {
	case "auto", "gpio", "simulated", "none":
	default:
		return fmt.Errorf("%w: unknown trigger source %q", ErrInvalid, c.Trigger.Source)
	}

	switch c.UI {
	case "tui", "tray", "headless":
	default:
		return fmt.Errorf("%w: unknown ui %q", ErrInvalid, c.UI)
	}

	return nil
}

// SlogLevel maps LogLevel onto a slog level; unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DBPath is the sqlite database location inside DataDir.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "poetrycam.db")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".poetrycam"
	}
	return filepath.Join(home, ".poetrycam")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: ignoring non-integer value", "key", key, "value", v)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("config: ignoring non-numeric value", "key", key, "value", v)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config: ignoring non-boolean value", "key", key, "value", v)
		return fallback
	}
	return b
}

// getEnvDuration accepts Go durations ("1500ms") and bare seconds ("2", "0.5").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	slog.Warn("config: ignoring invalid duration", "key", key, "value", v)
	return fallback
}

// getEnvPin accepts either a periph pin name ("GPIO16") or a bare BCM number ("16").
func getEnvPin(key, fallback string) string {
	v := getEnv(key, fallback)
	if _, err := strconv.Atoi(v); err == nil {
		return "GPIO" + v
	}
	return v
}
