package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. VOECHOAL_SERVER_ADDR.
const EnvPrefix = "VOECHOAL"

const (
	WhisperModeExec = "exec"
	WhisperModeHTTP = "http"
)

// DefaultDevice selects the system default input device.
const DefaultDevice = -1

type Config struct {
	DataDir  string         `mapstructure:"data_dir"`
	Server   ServerConfig   `mapstructure:"server"`
	Client   ClientConfig   `mapstructure:"client"`
	Whisper  WhisperConfig  `mapstructure:"whisper"`
	Scribe   ScribeConfig   `mapstructure:"scribe"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Recorder RecorderConfig `mapstructure:"recorder"`
}

type ServerConfig struct {
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	Token    string `mapstructure:"token"`
}

type ClientConfig struct {
	URL      string `mapstructure:"url"`
	Insecure bool   `mapstructure:"insecure"`
	CertFile string `mapstructure:"cert_file"`
}

type WhisperConfig struct {
	// exec runs a whisper.cpp binary, http calls a sidecar
	Mode     string        `mapstructure:"mode"`
	Path     string        `mapstructure:"path"`
	Model    string        `mapstructure:"model"`
	URL      string        `mapstructure:"url"`
	Language string        `mapstructure:"language"`
	Prompt   string        `mapstructure:"prompt"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type ScribeConfig struct {
	Workers    int     `mapstructure:"workers"`
	QueueSize  int     `mapstructure:"queue_size"`
	MaxSeconds float64 `mapstructure:"max_seconds"`
	Watch      bool    `mapstructure:"watch"`
}

type AudioConfig struct {
	// Index from the devices command, -1 for the system default input
	Device     int `mapstructure:"device"`
	SampleRate int `mapstructure:"sample_rate"`
	Channels   int `mapstructure:"channels"`
}

type RecorderConfig struct {
	AutoPause bool          `mapstructure:"auto_pause"`
	Silence   time.Duration `mapstructure:"silence"`
	Threshold float64       `mapstructure:"threshold"`
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	v.SetDefault("data_dir", filepath.Join(home, "voechoal"))

	v.SetDefault("server.addr", ":8444")
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")
	v.SetDefault("server.token", "")

	v.SetDefault("client.url", "http://localhost:8444")
	v.SetDefault("client.insecure", false)
	v.SetDefault("client.cert_file", "")

	v.SetDefault("whisper.mode", WhisperModeExec)
	v.SetDefault("whisper.path", "whisper-cli")
	v.SetDefault("whisper.model", "")
	v.SetDefault("whisper.url", "http://localhost:8387")
	v.SetDefault("whisper.language", "")
	v.SetDefault("whisper.prompt", "")
	v.SetDefault("whisper.timeout", 60*time.Second)

	v.SetDefault("scribe.workers", 2)
	v.SetDefault("scribe.queue_size", 100)
	v.SetDefault("scribe.max_seconds", 5.0)
	v.SetDefault("scribe.watch", true)

	v.SetDefault("audio.device", DefaultDevice)
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)

	v.SetDefault("recorder.auto_pause", false)
	v.SetDefault("recorder.silence", time.Second)
	v.SetDefault("recorder.threshold", 2.22)
}

// Load reads defaults, then the config file, then .env, then the environment.
// An empty path looks for voechoal.yaml in the working directory and in DataDir.
func Load(path string) (*Config, error) {
	// .env only fills in variables that are not already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("voechoal")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("data_dir"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		errs = append(errs, errors.New("server.cert_file and server.key_file must be set together"))
	}

	if c.Whisper.Mode != WhisperModeExec && c.Whisper.Mode != WhisperModeHTTP {
		errs = append(errs, fmt.Errorf("unknown whisper.mode %q", c.Whisper.Mode))
	}

	if c.Scribe.Workers < 1 {
		errs = append(errs, fmt.Errorf("scribe.workers must be positive, got %d", c.Scribe.Workers))
	}
	if c.Scribe.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("scribe.queue_size must be positive, got %d", c.Scribe.QueueSize))
	}
	if c.Scribe.MaxSeconds <= 0 {
		errs = append(errs, fmt.Errorf("scribe.max_seconds must be positive, got %v", c.Scribe.MaxSeconds))
	}

	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels must be 1 or 2, got %d", c.Audio.Channels))
	}
	if c.Audio.Device < DefaultDevice {
		errs = append(errs, fmt.Errorf("audio.device must be -1 or a device index, got %d", c.Audio.Device))
	}

	return errors.Join(errs...)
}

// ValidateServe adds the checks that only matter when transcribing locally.
func (c *Config) ValidateServe() error {
	var errs []error
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}

	switch c.Whisper.Mode {
	case WhisperModeExec:
		if c.Whisper.Path == "" {
			errs = append(errs, errors.New("whisper.path is required in exec mode"))
		}
		if c.Whisper.Model == "" {
			errs = append(errs, errors.New("whisper.model is required in exec mode"))
		}
	case WhisperModeHTTP:
		if c.Whisper.URL == "" {
			errs = append(errs, errors.New("whisper.url is required in http mode"))
		}
	}

	return errors.Join(errs...)
}
