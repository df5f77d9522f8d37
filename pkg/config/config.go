package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/pion/stun/v3"
)

// Config holds all configuration for the SFU client
type Config struct {
	SessionID  int      `yaml:"session_id" json:"session_id" env:"SFU_SESSION_ID"`
	Controller Endpoint `yaml:"controller" json:"controller" env-prefix:"SFU_CONTROLLER_"`

	// Optional endpoints, disabled when Host is empty
	STUN      Endpoint `yaml:"stun" json:"stun" env-prefix:"SFU_STUN_"`
	Telemetry Endpoint `yaml:"telemetry" json:"telemetry" env-prefix:"SFU_TELEMETRY_"`

	// LimitIP restricts signaled ICE candidates to lines containing it
	LimitIP string `yaml:"limit_ip" json:"limit_ip" env:"SFU_LIMIT_IP"`

	Codecs          CodecConfig   `yaml:"codecs" json:"codecs" env-prefix:"SFU_CODECS_"`
	ScalabilityMode string        `yaml:"scalability_mode" json:"scalability_mode" env:"SFU_SCALABILITY_MODE"`
	StatsInterval   time.Duration `yaml:"stats_interval" json:"stats_interval" env:"SFU_STATS_INTERVAL"`

	API   APIConfig   `yaml:"api" json:"api" env-prefix:"SFU_API_"`
	Media MediaConfig `yaml:"media" json:"media" env-prefix:"SFU_MEDIA_"`
}

// Endpoint is a host and port pair
type Endpoint struct {
	Host string `yaml:"host" json:"host" env:"HOST"`
	Port int    `yaml:"port" json:"port" env:"PORT"`

	// Insecure selects ws:// instead of wss:// for the controller
	Insecure bool `yaml:"insecure" json:"insecure" env:"INSECURE"`
	// SkipVerify disables TLS certificate verification for the controller
	SkipVerify bool `yaml:"skip_verify" json:"skip_verify" env:"SKIP_VERIFY"`
}

// Enabled reports whether the endpoint is configured
func (e Endpoint) Enabled() bool {
	return e.Host != ""
}

// Address returns host:port
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// CodecConfig holds the ordered codec preference list per media kind
type CodecConfig struct {
	Video []string `yaml:"video" json:"video" env:"VIDEO" env-separator:","`
	Audio []string `yaml:"audio" json:"audio" env:"AUDIO" env-separator:","`
}

// APIConfig holds the control API settings
type APIConfig struct {
	Address string `yaml:"address" json:"address" env:"ADDRESS"`
}

// MediaConfig holds the local RTP ingest addresses
type MediaConfig struct {
	VideoRTP string `yaml:"video_rtp" json:"video_rtp" env:"VIDEO_RTP"`
	AudioRTP string `yaml:"audio_rtp" json:"audio_rtp" env:"AUDIO_RTP"`
}

const (
	DefaultControllerHost  = "127.0.0.1"
	DefaultControllerPort  = 3301
	DefaultScalabilityMode = "L1T3"
	DefaultStatsInterval   = 500 * time.Millisecond
)

var (
	DefaultVideoCodecs = []string{"video/AV1", "video/rtx"}
	DefaultAudioCodecs = []string{"audio/opus"}
)

var ErrMissingSessionID = errors.New("missing session_id")

// LoadDotEnv loads environment variables from a .env file if it exists
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load reads configuration from a YAML or JSON file, with SFU_* environment
// variables taking precedence. An empty path reads the environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config from environment: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Controller.Host == "" {
		c.Controller.Host = DefaultControllerHost
	}
	if c.Controller.Port == 0 {
		c.Controller.Port = DefaultControllerPort
	}
	if len(c.Codecs.Video) == 0 {
		c.Codecs.Video = append([]string(nil), DefaultVideoCodecs...)
	}
	if len(c.Codecs.Audio) == 0 {
		c.Codecs.Audio = append([]string(nil), DefaultAudioCodecs...)
	}
	if c.ScalabilityMode == "" {
		c.ScalabilityMode = DefaultScalabilityMode
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = DefaultStatsInterval
	}
}

// Validate checks that all required configuration fields are present
func (c *Config) Validate() error {
	if c.SessionID == 0 {
		return ErrMissingSessionID
	}
	if err := validPort("controller", c.Controller.Port); err != nil {
		return err
	}
	if c.STUN.Enabled() {
		if err := validPort("stun", c.STUN.Port); err != nil {
			return err
		}
		if _, err := stun.ParseURI(c.STUNURL()); err != nil {
			return fmt.Errorf("invalid stun server %s: %w", c.STUN.Address(), err)
		}
	}
	if c.Telemetry.Enabled() {
		if err := validPort("telemetry", c.Telemetry.Port); err != nil {
			return err
		}
	}
	if c.StatsInterval < 0 {
		return fmt.Errorf("invalid stats_interval %s", c.StatsInterval)
	}
	return nil
}

func validPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid %s port %d", name, port)
	}
	return nil
}

// ControllerURL returns the WebSocket URL of the signaling controller
func (c *Config) ControllerURL() string {
	scheme := "wss"
	if c.Controller.Insecure {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Controller.Address())
}

// TelemetryURL returns the WebSocket URL of the telemetry sink, or "" when disabled
func (c *Config) TelemetryURL() string {
	if !c.Telemetry.Enabled() {
		return ""
	}
	return fmt.Sprintf("ws://%s", c.Telemetry.Address())
}

// STUNURL returns the STUN server URI, or "" when disabled
func (c *Config) STUNURL() string {
	if !c.STUN.Enabled() {
		return ""
	}
	return "stun:" + c.STUN.Address()
}
