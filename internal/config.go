package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

type Config struct {
	Host     string `env:"HOST,default=0.0.0.0"`
	Port     int    `env:"PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`

	JwtSecret         string        `env:"JWT_SECRET,required=true"`
	JwtIssuer         string        `env:"JWT_ISSUER,default=market-chat"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`

	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=5s"`
	PingInterval         time.Duration `env:"PING_INTERVAL,default=30s"`
	StoreTimeout         time.Duration `env:"STORE_TIMEOUT,default=5s"`
	MaxMessageLength     int           `env:"MAX_MESSAGE_LENGTH,default=2000"`
	RegistryShards       int           `env:"REGISTRY_SHARDS,default=32"`

	HistoryLimit    int `env:"HISTORY_LIMIT,default=50"`
	HistoryMaxLimit int `env:"HISTORY_MAX_LIMIT,default=200"`

	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=*"`
	// Comma separated words rejected in message bodies. Empty disables screening.
	BlockedWords string `env:"BLOCKED_WORDS"`

	MetricInterval  time.Duration `env:"METRIC_INTERVAL,default=10s"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// LoadConfig reads an optional .env file, then the environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.JwtSecret) == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if strings.TrimSpace(c.BadgerFilepath) == "" {
		return fmt.Errorf("BADGER_FILEPATH must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive, got %d", c.HistoryLimit)
	}
	if c.HistoryMaxLimit < c.HistoryLimit {
		return fmt.Errorf("HISTORY_MAX_LIMIT (%d) must not be lower than HISTORY_LIMIT (%d)", c.HistoryMaxLimit, c.HistoryLimit)
	}
	if c.ConnectionBufferSize <= 0 {
		return fmt.Errorf("CONNECTION_BUFFER_SIZE must be positive, got %d", c.ConnectionBufferSize)
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Origins splits ALLOWED_ORIGINS on commas. "*" alone allows every origin.
func (c Config) Origins() []string {
	return splitList(c.AllowedOrigins)
}

func (c Config) BlockedWordList() []string {
	return splitList(c.BlockedWords)
}

func splitList(raw string) []string {
	return lo.Compact(lo.Map(strings.Split(raw, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	}))
}

func (c Config) AllowAllOrigins() bool {
	origins := c.Origins()
	return len(origins) == 0 || lo.Contains(origins, "*")
}
