package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"` // json or text
	DevMode   bool   `env:"DEV_MODE" envDefault:"false"`

	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	AdminAddr string `env:"ADMIN_ADDR" envDefault:":9091"`

	JWTSecret    string `env:"JWT_SECRET,required"`
	JWTIssuer    string `env:"JWT_ISSUER"`
	ServiceToken string `env:"SERVICE_TOKEN"`
	CORSOrigins  string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	TenantsFile        string        `env:"TENANTS_FILE" envDefault:"tenants.yaml"`
	PoolConnectTimeout time.Duration `env:"POOL_CONNECT_TIMEOUT" envDefault:"5s"`

	RedisURL   string `env:"REDIS_URL"` // empty disables cross-instance fan-out
	RedisTopic string `env:"REDIS_CHANNEL" envDefault:"schoolpulse:events"`
	InstanceID string `env:"INSTANCE_ID"`

	SessionBuffer  int           `env:"SESSION_BUFFER" envDefault:"64"`
	WSWriteTimeout time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	WSPongTimeout  time.Duration `env:"WS_PONG_TIMEOUT" envDefault:"60s"`
	WSMaxMessage   int64         `env:"WS_MAX_MESSAGE_BYTES" envDefault:"65536"`
	InboundRate    float64       `env:"WS_INBOUND_RATE" envDefault:"20"` // messages per second
	InboundBurst   int           `env:"WS_INBOUND_BURST" envDefault:"40"`
	MaxPublishSize int64         `env:"MAX_PUBLISH_SIZE_BYTES" envDefault:"1048576"` // 1MB

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
