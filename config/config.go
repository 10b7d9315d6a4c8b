package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const defaultPath = "./config/config.yaml"

type HTTP struct {
	Addr           string   `yaml:"addr"           env:"ECOTALK_HTTP_ADDR"`
	Port           string   `yaml:"port"           env:"PORT"`
	AllowedOrigins []string `yaml:"allowedOrigins" env:"ALLOWED_ORIGINS" envSeparator:","`
	AdminToken     string   `yaml:"adminToken"     env:"ECOTALK_ADMIN_TOKEN"`
}

// GRPC: пустой addr — gRPC не поднимается.
type GRPC struct {
	Addr string `yaml:"addr" env:"ECOTALK_GRPC_ADDR"`
}

type Logging struct {
	Env       string `yaml:"env"       env:"APP_ENV"`     // dev|stage|prod
	Service   string `yaml:"service"`                     // ecotalk-server
	Version   string `yaml:"version"   env:"APP_VERSION"` // v0.1.0
	Backend   string `yaml:"backend"   env:"LOG_BACKEND"` // std|zap
	Level     string `yaml:"level"     env:"LOG_LEVEL"`   // debug|info|warn|error
	AddSource bool   `yaml:"addSource"`
	Debug     bool   `yaml:"debug"     env:"LOG_DEBUG"`
}

type Rooms struct {
	DestroyPolicy        string        `yaml:"destroyPolicy"        env:"ECOTALK_ROOMS_DESTROY_POLICY"` // delayed|immediate
	DestroyGrace         time.Duration `yaml:"destroyGrace"         env:"ECOTALK_ROOMS_DESTROY_GRACE"`
	MaxParticipantsLimit int           `yaml:"maxParticipantsLimit" env:"ECOTALK_ROOMS_MAX_PARTICIPANTS"`
	MaxMessageLength     int           `yaml:"maxMessageLength"     env:"ECOTALK_ROOMS_MAX_MESSAGE_LENGTH"`
}

type Signaling struct {
	Profile string `yaml:"profile" env:"ECOTALK_SIGNALING_PROFILE"` // unified|split
}

type WS struct {
	PingEvery  time.Duration `yaml:"pingEvery"`
	WriteWait  time.Duration `yaml:"writeWait"`
	SendBuffer int           `yaml:"sendBuffer"`
	ReadLimit  int64         `yaml:"readLimit"`
	RateLimit  float64       `yaml:"rateLimit" env:"ECOTALK_WS_RATE_LIMIT"` // событий в секунду на соединение
	RateBurst  int           `yaml:"rateBurst" env:"ECOTALK_WS_RATE_BURST"`
}

type JWT struct {
	Secret        string        `yaml:"secret"        env:"ECOTALK_JWT_SECRET"`
	PublicKeyPath string        `yaml:"publicKeyPath" env:"ECOTALK_JWT_PUBLIC_KEY_PATH"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	Leeway        time.Duration `yaml:"leeway"`
}

type AuthHTTP struct {
	URL string `yaml:"url" env:"ECOTALK_AUTH_URL"`
}

type Auth struct {
	Provider string        `yaml:"provider" env:"ECOTALK_AUTH_PROVIDER"` // none|jwt|http
	Timeout  time.Duration `yaml:"timeout"`
	JWT      JWT           `yaml:"jwt"`
	HTTP     AuthHTTP      `yaml:"http"`
}

// Postgres: пустой dsn — архив чата выключен.
type Postgres struct {
	DSN      string `yaml:"dsn"      env:"ECOTALK_POSTGRES_DSN"`
	MaxConns int32  `yaml:"maxConns"`
}

type Telemetry struct {
	Enabled      bool    `yaml:"enabled"      env:"OTEL_ENABLED"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	GRPC      GRPC      `yaml:"grpc"`
	Logging   Logging   `yaml:"logging"`
	Rooms     Rooms     `yaml:"rooms"`
	Signaling Signaling `yaml:"signaling"`
	WS        WS        `yaml:"ws"`
	Auth      Auth      `yaml:"auth"`
	Postgres  Postgres  `yaml:"postgres"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// LoadConfig читает YAML (CONFIG_PATH или ./config/config.yaml), затем накладывает env.
// Файл по умолчанию необязателен; явно указанный CONFIG_PATH — обязателен.
func LoadConfig() (*Config, error) {
	path, explicit := os.LookupEnv("CONFIG_PATH")
	if path == "" {
		path, explicit = defaultPath, false
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Port != "" {
		c.HTTP.Addr = ":" + strings.TrimPrefix(c.HTTP.Port, ":")
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":3001"
	}
	c.HTTP.AllowedOrigins = cleanList(c.HTTP.AllowedOrigins)
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	// установка дефолтов, если значения не указаны
	if c.Logging.Service == "" {
		c.Logging.Service = "ecotalk-server"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}

	switch c.Rooms.DestroyPolicy {
	case "":
		c.Rooms.DestroyPolicy = "delayed"
	case "delayed", "immediate":
	default:
		return fmt.Errorf("rooms.destroyPolicy: unknown value %q", c.Rooms.DestroyPolicy)
	}
	if c.Rooms.DestroyGrace < 0 || c.Rooms.MaxParticipantsLimit < 0 || c.Rooms.MaxMessageLength < 0 {
		return errors.New("rooms: negative limits are not allowed")
	}

	switch c.Signaling.Profile {
	case "":
		c.Signaling.Profile = "unified"
	case "unified", "split":
	default:
		return fmt.Errorf("signaling.profile: unknown value %q", c.Signaling.Profile)
	}

	if c.WS.RateLimit < 0 {
		return errors.New("ws.rateLimit must not be negative")
	}

	switch c.Auth.Provider {
	case "":
		c.Auth.Provider = "none"
	case "none":
	case "jwt":
		if c.Auth.JWT.Secret == "" && c.Auth.JWT.PublicKeyPath == "" {
			return errors.New("auth.jwt: secret or publicKeyPath is required")
		}
	case "http":
		if c.Auth.HTTP.URL == "" {
			return errors.New("auth.http.url is required")
		}
	default:
		return fmt.Errorf("auth.provider: unknown value %q", c.Auth.Provider)
	}
	if c.Auth.Timeout <= 0 {
		c.Auth.Timeout = 5 * time.Second
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry.sampleRatio must be within [0,1]")
	}
	return nil
}

func cleanList(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
