package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Page      PageConfig      `mapstructure:"page"`
	Popup     PopupConfig     `mapstructure:"popup"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

// RelayConfig controls how the extension side talks to the download server.
type RelayConfig struct {
	BundledConfig string `mapstructure:"bundled_config"`
	Source        string `mapstructure:"source"`
	// Zero means the transport default applies.
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
}

type PageConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	FeedbackDelay time.Duration `mapstructure:"feedback_delay"`
}

type PopupConfig struct {
	StatusRevertDelay time.Duration `mapstructure:"status_revert_delay"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	DataDir       string `mapstructure:"data_dir"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8765)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.max_header_bytes", 1<<20)

	v.SetDefault("relay.bundled_config", "./configs/extension.json")
	v.SetDefault("relay.source", "EXT")
	v.SetDefault("relay.fetch_timeout", 3*time.Second)
	v.SetDefault("relay.submit_timeout", 0)

	v.SetDefault("page.poll_interval", time.Second)
	v.SetDefault("page.feedback_delay", 1500*time.Millisecond)
	v.SetDefault("popup.status_revert_delay", 2*time.Second)

	v.SetDefault("cors.allowed_origins", []string{"chrome-extension://*", "moz-extension://*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Authorization"})
	v.SetDefault("cors.exposed_headers", []string{})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 120)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("storage.type", "disk")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.sqlite_path", "./data/state.db")
	v.SetDefault("storage.redis_addr", "127.0.0.1:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.key_prefix", "mvideodk")
}

// Load reads the YAML file at configPath. A missing file is not an error:
// defaults plus RELAY_* environment variables still produce a usable config.
func Load(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, err
	}

	if c.Relay.Source == "" {
		c.Relay.Source = "EXT"
	}

	return c, nil
}
