package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
	Test        Environment = "test"
)

const envPrefix = "GENIE"

// Config is the single configuration object the client is built from
type Config struct {
	Environment Environment    `mapstructure:"-"`
	APIURL      string         `mapstructure:"api_url"`
	DownloadDir string         `mapstructure:"download_dir"`
	API         APIConfig      `mapstructure:"api"`
	Audio       AudioConfig    `mapstructure:"audio"`
	UI          UIConfig       `mapstructure:"ui"`
	Tracking    TrackingConfig `mapstructure:"tracking"`
	Features    FeatureFlags   `mapstructure:"features"`
	Log         LogConfig      `mapstructure:"log"`
}

type APIConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type AudioConfig struct {
	MaxFileSizeMB   float64       `mapstructure:"max_file_size_mb"`
	DefaultDuration float64       `mapstructure:"default_duration"`
	MaxDuration     float64       `mapstructure:"max_duration"`
	SampleRate      int           `mapstructure:"sample_rate"`
	DecodeTimeout   time.Duration `mapstructure:"decode_timeout"`
	Volume          float64       `mapstructure:"volume"`
}

type UIConfig struct {
	PageSize       int           `mapstructure:"page_size"`
	PopularLimit   int           `mapstructure:"popular_limit"`
	StatsDays      int           `mapstructure:"stats_days"`
	SearchDebounce time.Duration `mapstructure:"search_debounce"`
	FrameInterval  time.Duration `mapstructure:"frame_interval"`
	BarWidth       int           `mapstructure:"bar_width"`
	BarGap         int           `mapstructure:"bar_gap"`
	WaveformHeight int           `mapstructure:"waveform_height"`
}

type TrackingConfig struct {
	QueueSize  int           `mapstructure:"queue_size"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Rate       float64       `mapstructure:"rate"` // events per second
}

type FeatureFlags struct {
	Waveform      bool `mapstructure:"waveform"`
	Favorites     bool `mapstructure:"favorites"`
	Downloads     bool `mapstructure:"downloads"`
	Stats         bool `mapstructure:"stats"`
	Search        bool `mapstructure:"search"`
	ModelControls bool `mapstructure:"model_controls"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	File   string `mapstructure:"file"`
	Format string `mapstructure:"format"` // json | console
}

// Options are the command-line overrides; they beat the environment.
type Options struct {
	Environment string
	APIURL      string
	LogFile     string
	EnvFile     string
}

// Loader wraps its own viper instance so tests can load side by side
type Loader struct {
	viper *viper.Viper
	opts  Options
}

func NewLoader(opts Options) *Loader {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{viper: v, opts: opts}
}

// Load is the one-call entry point used by main.
func Load(opts Options) (*Config, error) {
	return NewLoader(opts).Load()
}

func (l *Loader) Load() (*Config, error) {
	envFile := l.opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading %s: %w", envFile, err)
	}

	envName := l.opts.Environment
	if envName == "" {
		envName = os.Getenv(envPrefix + "_ENV")
	}
	env := ParseEnvironment(envName)

	setDefaults(l.viper, env)

	if l.opts.APIURL != "" {
		l.viper.Set("api_url", l.opts.APIURL)
	}
	if l.opts.LogFile != "" {
		l.viper.Set("log.file", l.opts.LogFile)
	}

	var cfg Config
	if err := l.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Environment = env
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}
	return &cfg, nil
}

func ParseEnvironment(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stage", "staging":
		return Staging
	case "prod", "production":
		return Production
	case "test", "testing":
		return Test
	default:
		return Development
	}
}

func setDefaults(v *viper.Viper, env Environment) {
	v.SetDefault("api_url", "")
	v.SetDefault("download_dir", "downloads")

	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.retry_attempts", 3)
	v.SetDefault("api.retry_delay", time.Second)

	v.SetDefault("audio.max_file_size_mb", 50.0)
	v.SetDefault("audio.default_duration", 30.0)
	v.SetDefault("audio.max_duration", 120.0)
	v.SetDefault("audio.sample_rate", 32000)
	v.SetDefault("audio.decode_timeout", 10*time.Second)
	v.SetDefault("audio.volume", 0.8)

	v.SetDefault("ui.page_size", 50)
	v.SetDefault("ui.popular_limit", 10)
	v.SetDefault("ui.stats_days", 7)
	v.SetDefault("ui.search_debounce", 300*time.Millisecond)
	v.SetDefault("ui.frame_interval", 33*time.Millisecond)
	v.SetDefault("ui.bar_width", 1)
	v.SetDefault("ui.bar_gap", 0)
	v.SetDefault("ui.waveform_height", 3)

	v.SetDefault("tracking.queue_size", 64)
	v.SetDefault("tracking.max_retries", 3)
	v.SetDefault("tracking.retry_delay", 2*time.Second)
	v.SetDefault("tracking.rate", 5.0)

	v.SetDefault("features.waveform", true)
	v.SetDefault("features.favorites", true)
	v.SetDefault("features.downloads", true)
	v.SetDefault("features.stats", true)
	v.SetDefault("features.search", true)
	v.SetDefault("features.model_controls", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "genie.log")
	v.SetDefault("log.format", "json")

	// Tier overrides
	switch env {
	case Development:
		v.SetDefault("api_url", "http://localhost:8000")
		v.SetDefault("api.timeout", 60*time.Second)
		v.SetDefault("ui.page_size", 20)
		v.SetDefault("log.level", "debug")
		v.SetDefault("log.format", "console")
	case Staging:
		v.SetDefault("log.level", "debug")
	case Production:
		v.SetDefault("features.model_controls", false)
	case Test:
		v.SetDefault("api_url", "http://localhost:8000")
		v.SetDefault("api.timeout", 2*time.Second)
		v.SetDefault("api.retry_attempts", 1)
		v.SetDefault("api.retry_delay", 10*time.Millisecond)
		v.SetDefault("tracking.retry_delay", 10*time.Millisecond)
		v.SetDefault("log.level", "disabled")
	}
}

func validate(cfg *Config) error {
	if cfg.APIURL == "" {
		return fmt.Errorf("%s_API_URL must be set in %s", envPrefix, cfg.Environment)
	}
	u, err := url.Parse(cfg.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api url %q is not an absolute http(s) url", cfg.APIURL)
	}
	if cfg.API.Timeout <= 0 {
		return fmt.Errorf("api timeout must be positive")
	}
	if cfg.API.RetryAttempts < 0 {
		return fmt.Errorf("api retry attempts cannot be negative")
	}
	if cfg.Audio.DecodeTimeout <= 0 {
		return fmt.Errorf("audio decode timeout must be positive")
	}
	if cfg.UI.FrameInterval <= 0 {
		return fmt.Errorf("frame interval must be positive")
	}
	if cfg.UI.BarWidth < 1 || cfg.UI.BarGap < 0 {
		return fmt.Errorf("waveform bar geometry must have width >= 1 and gap >= 0")
	}
	if cfg.Audio.Volume < 0 || cfg.Audio.Volume > 1 {
		return fmt.Errorf("audio volume must be within [0, 1]")
	}
	return nil
}
