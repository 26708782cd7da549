// Package config reads process settings from the environment, after loading
// an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DoyleJ11/rps-coordinator/internal/profile"
	"github.com/DoyleJ11/rps-coordinator/internal/room"
)

type Config struct {
	Port           string
	AppEnv         string
	LogLevel       string
	AllowedOrigins []string

	Timing room.Timing

	DatabaseURL string
	RedisAddr   string
	JWTSecret   string

	Persist         profile.NotifierConfig
	ShutdownTimeout time.Duration

	EnvFileLoaded bool
}

// Load reads the configuration. A missing .env file is not an error.
func Load() (Config, error) {
	loaded := godotenv.Load() == nil

	p := parser{}
	cfg := Config{
		Port:           getEnv("PORT", "8080"),
		AppEnv:         getEnv("APP_ENV", "production"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
		Timing: room.Timing{
			CountdownTicks:  p.int("COUNTDOWN_TICKS", 10),
			TickInterval:    p.duration("COUNTDOWN_TICK", time.Second),
			ReconnectGrace:  p.duration("RECONNECT_GRACE", 45*time.Second),
			ResultRetention: p.duration("RESULT_RETENTION", 2*time.Minute),
			IdleTimeout:     p.duration("IDLE_TIMEOUT", 10*time.Minute),
		},
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		Persist: profile.NotifierConfig{
			QueueSize: p.int("PERSIST_QUEUE", 256),
			Attempts:  p.int("PERSIST_ATTEMPTS", 5),
			Backoff:   p.duration("PERSIST_BACKOFF", 500*time.Millisecond),
		},
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		EnvFileLoaded:   loaded,
	}
	if p.err != nil {
		return Config{}, p.err
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if cfg.Timing.CountdownTicks <= 0 {
		return Config{}, fmt.Errorf("COUNTDOWN_TICKS: must be positive, got %d", cfg.Timing.CountdownTicks)
	}
	return cfg, nil
}

func (c Config) Development() bool { return c.AppEnv == "development" }

// Logger builds the process logger: console output in development, JSON
// otherwise.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if c.Development() {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser keeps the first bad variable so Load can report it.
type parser struct {
	err error
}

func (p *parser) int(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err == nil && d <= 0 {
		err = fmt.Errorf("must be positive, got %s", d)
	}
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return d
}
