// Package config loads maskopt settings from a YAML file, the environment
// and command-line overrides, in that order of increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/manash/maskopt/pkg/models"
)

var (
	ErrMissingServerURL = errors.New("server_url is required")
	ErrInvalidValue     = errors.New("invalid config value")
)

const (
	DefaultServerURL    = "ws://localhost:8005/ws"
	DefaultModelType    = "clip"
	DefaultLearningRate = 30
	DefaultCanvasName   = "main"
	DefaultPingInterval = 30 * time.Second
)

type Config struct {
	ServerURL    string        `yaml:"server_url"`
	ModelType    string        `yaml:"model_type"`
	LearningRate float64       `yaml:"learning_rate"`
	NumRecSteps  int           `yaml:"num_rec_steps"`
	StylePrompt  string        `yaml:"style_prompt"`
	CanvasDB     string        `yaml:"canvas_db"`
	CanvasName   string        `yaml:"canvas_name"`
	PauseCommand string        `yaml:"pause_command"`
	LogLevel     string        `yaml:"log_level"`
	MetricsAddr  string        `yaml:"metrics_addr"`
	PingInterval time.Duration `yaml:"ping_interval"`
	Insecure     bool          `yaml:"insecure"`
}

func Defaults() Config {
	return Config{
		ServerURL:    DefaultServerURL,
		ModelType:    DefaultModelType,
		LearningRate: DefaultLearningRate,
		CanvasName:   DefaultCanvasName,
		PauseCommand: models.CommandStop,
		LogLevel:     "warn",
		PingInterval: DefaultPingInterval,
	}
}

// Load reads path (if it exists) over the defaults, then applies env
// overrides. A missing file is not an error.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("MASKOPT_SERVER_URL", &cfg.ServerURL)
	str("MASKOPT_MODEL_TYPE", &cfg.ModelType)
	str("MASKOPT_STYLE_PROMPT", &cfg.StylePrompt)
	str("MASKOPT_CANVAS_DB", &cfg.CanvasDB)
	str("MASKOPT_CANVAS_NAME", &cfg.CanvasName)
	str("MASKOPT_PAUSE_COMMAND", &cfg.PauseCommand)
	str("MASKOPT_LOG_LEVEL", &cfg.LogLevel)
	str("MASKOPT_METRICS_ADDR", &cfg.MetricsAddr)

	if v := getenv("MASKOPT_LEARNING_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: MASKOPT_LEARNING_RATE=%q", ErrInvalidValue, v)
		}
		cfg.LearningRate = f
	}
	if v := getenv("MASKOPT_NUM_REC_STEPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: MASKOPT_NUM_REC_STEPS=%q", ErrInvalidValue, v)
		}
		cfg.NumRecSteps = n
	}
	if v := getenv("MASKOPT_PING_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: MASKOPT_PING_INTERVAL=%q", ErrInvalidValue, v)
		}
		cfg.PingInterval = d
	}
	if v := getenv("MASKOPT_INSECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: MASKOPT_INSECURE=%q", ErrInvalidValue, v)
		}
		cfg.Insecure = b
	}
	return nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return ErrMissingServerURL
	}
	if c.LearningRate < 0 {
		return fmt.Errorf("%w: learning_rate must be non-negative", ErrInvalidValue)
	}
	if c.NumRecSteps < 0 {
		return fmt.Errorf("%w: num_rec_steps must be non-negative", ErrInvalidValue)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("%w: ping_interval must be positive", ErrInvalidValue)
	}
	switch c.PauseCommand {
	case models.CommandStop, models.CommandPause:
	default:
		return fmt.Errorf("%w: pause_command must be %s or %s", ErrInvalidValue, models.CommandStop, models.CommandPause)
	}
	return nil
}

// Write stores cfg as YAML at path.
func Write(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Dir returns the platform-specific config directory.
func Dir() (string, error) {
	if testDir := os.Getenv("MASKOPT_CONFIG_DIR"); testDir != "" {
		return testDir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "maskopt"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "maskopt"), nil
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, "maskopt"), nil
	}
}

// DefaultPath returns the config.yaml location inside Dir.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}
