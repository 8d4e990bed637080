package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	PresenceHub = "hub"
	PresenceP2P = "p2p"

	CaptureMic  = "mic"
	CaptureTone = "tone"

	PlaybackSpeaker = "speaker"
	PlaybackNone    = "none"

	BackpressureKick = "kick"
	BackpressureKeep = "keep"
)

type Config struct {
	Mode              string        `mapstructure:"mode"`
	Port              int           `mapstructure:"port"`
	StaticPath        string        `mapstructure:"static_path"`
	ReadLimit         int64         `mapstructure:"read_limit"`
	PingPeriod        time.Duration `mapstructure:"ping_period"`
	Secret            string        `mapstructure:"secret"`
	SubscribeLimit    int           `mapstructure:"subscribe_limit"`
	SubscribeInterval time.Duration `mapstructure:"subscribe_interval"`
	SendBuffer        int           `mapstructure:"send_buffer"`
	Backpressure      string        `mapstructure:"backpressure"`
	LogLevel          string        `mapstructure:"log_level"`

	Client ClientConfig `mapstructure:"client"`
}

type ClientConfig struct {
	HubURL           string        `mapstructure:"hub_url"`
	Presence         string        `mapstructure:"presence"`
	ICEServers       []string      `mapstructure:"ice_servers"`
	Capture          string        `mapstructure:"capture"`
	Playback         string        `mapstructure:"playback"`
	P2PPort          int           `mapstructure:"p2p_port"`
	PresenceInterval time.Duration `mapstructure:"presence_interval"`
	PresenceTTL      time.Duration `mapstructure:"presence_ttl"`
	Room             string        `mapstructure:"room"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "walkie-dev-secret")
	v.SetDefault("subscribe_limit", 5)
	v.SetDefault("subscribe_interval", "10s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("backpressure", BackpressureKick)
	v.SetDefault("log_level", "info")

	v.SetDefault("client.hub_url", "ws://localhost:8080/api/ws")
	v.SetDefault("client.presence", PresenceHub)
	v.SetDefault("client.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("client.capture", CaptureMic)
	v.SetDefault("client.playback", PlaybackSpeaker)
	v.SetDefault("client.p2p_port", 0)
	v.SetDefault("client.presence_interval", "2s")
	v.SetDefault("client.presence_ttl", "7s")
	v.SetDefault("client.room", "")
}

// Flags returns the command line surface. Only flags explicitly set override the file and env.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.Int("port", 8080, "hub listen port")
	fs.String("mode", "release", "gin mode: debug|release")
	fs.String("log-level", "info", "zerolog level")
	fs.String("hub", "ws://localhost:8080/api/ws", "hub websocket url")
	fs.String("presence", PresenceHub, "presence backend: hub|p2p")
	fs.String("capture", CaptureMic, "capture source: mic|tone")
	fs.String("playback", PlaybackSpeaker, "playback: speaker|none")
	fs.Int("p2p-port", 0, "libp2p listen port (0 picks one)")
	fs.String("room", "", "room code to join on start")
	return fs
}

var flagKeys = map[string]string{
	"port":      "port",
	"mode":      "mode",
	"log-level": "log_level",
	"hub":       "client.hub_url",
	"presence":  "client.presence",
	"capture":   "client.capture",
	"playback":  "client.playback",
	"p2p-port":  "client.p2p_port",
	"room":      "client.room",
}

// Load reads config/config.<CONFIG_ENV>.yaml, WALKIE_* env vars and, when fs is not nil,
// the parsed flags, in increasing priority.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("WALKIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if fs != nil {
		for flag, key := range flagKeys {
			f := fs.Lookup(flag)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

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
		Int("port", cfg.Port).
		Str("presence", cfg.Client.Presence).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backpressure {
	case BackpressureKick, BackpressureKeep:
	default:
		return fmt.Errorf("unknown backpressure policy %q", c.Backpressure)
	}
	switch c.Client.Presence {
	case PresenceHub, PresenceP2P:
	default:
		return fmt.Errorf("unknown presence backend %q", c.Client.Presence)
	}
	switch c.Client.Capture {
	case CaptureMic, CaptureTone:
	default:
		return fmt.Errorf("unknown capture source %q", c.Client.Capture)
	}
	switch c.Client.Playback {
	case PlaybackSpeaker, PlaybackNone:
	default:
		return fmt.Errorf("unknown playback %q", c.Client.Playback)
	}
	return nil
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
