package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the comm-core process needs. All values come from
// the environment; nothing else in the codebase reads env vars directly.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Broker BrokerConfig
	Auth   AuthConfig
	Upload UploadConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN builds a lib/pq connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host string
	Port int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type BrokerConfig struct {
	// AMQPURL empty disables the push exchange and the event stream.
	AMQPURL    string
	StreamURI  string
	StreamName string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
	OTPTTL    time.Duration
}

type UploadConfig struct {
	Dir string
}

func Load() (Config, error) {
	c := Config{}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	if c.App.Env == "" {
		c.App.Env = "local"
	}
	c.App.Port = intEnv("APP_PORT", 8080)

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = intEnv("DB_PORT", 5432)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	if c.DB.SSLMode == "" {
		c.DB.SSLMode = "disable"
	}

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	c.Redis.Port = intEnv("REDIS_PORT", 6379)

	c.Broker.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	c.Broker.StreamURI = strings.TrimSpace(os.Getenv("STREAM_URI"))
	c.Broker.StreamName = strings.TrimSpace(os.Getenv("EVENT_STREAM"))
	if c.Broker.StreamName == "" {
		c.Broker.StreamName = "comm.events"
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.TokenTTL = durationEnv("JWT_TTL", 7*24*time.Hour)
	c.Auth.OTPTTL = durationEnv("OTP_TTL", 5*time.Minute)

	c.Upload.Dir = strings.TrimSpace(os.Getenv("UPLOAD_DIR"))
	if c.Upload.Dir == "" {
		c.Upload.Dir = "uploads"
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	switch c.DB.SSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		errs = append(errs, fmt.Errorf("DB_SSLMODE invalid: %q", c.DB.SSLMode))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	if c.Auth.OTPTTL <= 0 {
		errs = append(errs, errors.New("OTP_TTL must be positive"))
	}

	return errors.Join(errs...)
}

func intEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
