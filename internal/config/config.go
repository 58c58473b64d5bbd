package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Config struct {
	Mode       string `mapstructure:"mode"`
	ServerURL  string `mapstructure:"server_url"`
	Room       string `mapstructure:"room"`
	StatusAddr string `mapstructure:"status_addr"`
	VideoFile  string `mapstructure:"video_file"`
	RecordDir  string `mapstructure:"record_dir"`

	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	SendBuffer     int           `mapstructure:"send_buffer"`

	ConsumeConcurrency int    `mapstructure:"consume_concurrency"`
	ConsumeFailure     string `mapstructure:"consume_failure"`

	ICEServers      []ICEServer `mapstructure:"ice_servers"`
	MaxBitrate      int         `mapstructure:"max_bitrate"`
	ScalabilityMode string      `mapstructure:"scalability_mode"`
	StartBitrate    int         `mapstructure:"start_bitrate"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("server_url", "ws://localhost:3000/signal")
	v.SetDefault("room", "main")
	v.SetDefault("status_addr", ":8081")
	v.SetDefault("video_file", "")
	v.SetDefault("record_dir", "")
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("ping_period", "25s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("read_limit", 1048576)
	v.SetDefault("send_buffer", 32)
	v.SetDefault("consume_concurrency", 1)
	v.SetDefault("consume_failure", "continue")
	v.SetDefault("ice_servers", []ICEServer{})
	v.SetDefault("max_bitrate", 300000)
	v.SetDefault("scalability_mode", "S1T3")
	v.SetDefault("start_bitrate", 1000)
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default). Keys can
// be overridden with SFUCLIENT_<KEY> environment variables.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("SFUCLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Str("server", cfg.ServerURL).
		Str("room", cfg.Room).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.ServerURL == "" {
		errs = append(errs, errors.New("server_url is empty"))
	}
	if c.Room == "" {
		errs = append(errs, errors.New("room is empty"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	if c.PingPeriod <= 0 {
		errs = append(errs, errors.New("ping_period must be positive"))
	}
	if c.WriteWait <= 0 {
		errs = append(errs, errors.New("write_wait must be positive"))
	}
	if c.ConsumeConcurrency < 1 {
		errs = append(errs, errors.New("consume_concurrency must be at least 1"))
	}
	switch c.ConsumeFailure {
	case "", "continue", "abort":
	default:
		errs = append(errs, fmt.Errorf("consume_failure %q is not continue or abort", c.ConsumeFailure))
	}
	return errors.Join(errs...)
}
