package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Database struct {
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Name           string `mapstructure:"name"`
	Host           string `mapstructure:"host"`
	Port           string `mapstructure:"port"`
	SSLMode        string `mapstructure:"ssl-mode"`
	MigrateOnStart bool   `mapstructure:"migrate-on-start"`
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	PaymentEvents string `mapstructure:"payment-events"`
}

type KafkaReader struct {
	GroupID string `mapstructure:"group-id"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
	Reader KafkaReader `mapstructure:"reader"`
}

type Gateway struct {
	BaseURL      string `mapstructure:"base-url"`
	KeyID        string `mapstructure:"key-id"`
	KeySecret    string `mapstructure:"key-secret"`
	TimeoutMs    int    `mapstructure:"timeout-ms"`
	MaxAttempts  int    `mapstructure:"max-attempts"`
	RetryDelayMs int    `mapstructure:"retry-delay-ms"`
}

// Payment holds the checkout terms. OrderAmount is in major currency units.
type Payment struct {
	OrderAmount string `mapstructure:"order-amount"`
	Currency    string `mapstructure:"currency"`
}

type Auth struct {
	Secret     string `mapstructure:"secret"`
	CookieName string `mapstructure:"cookie-name"`
	SignInPath string `mapstructure:"sign-in-path"`
}

type Redis struct {
	Addr             string `mapstructure:"addr"`
	Password         string `mapstructure:"password"`
	DB               int    `mapstructure:"db"`
	IdempotencyTTLMs int    `mapstructure:"idempotency-ttl-ms"`
}

type Outbox struct {
	PollingIntervalMs  int `mapstructure:"polling-interval-ms"`
	FetchSize          int `mapstructure:"fetch-size"`
	RescheduleDelayMs  int `mapstructure:"reschedule-delay-ms"`
	MaxPublishAttempts int `mapstructure:"max-publish-attempts"`
}

type Notification struct {
	URL          string `mapstructure:"url"`
	TimeoutMs    int    `mapstructure:"timeout-ms"`
	Parallelism  int    `mapstructure:"parallelism"`
	MaxAttempts  int    `mapstructure:"max-attempts"`
	RetryDelayMs int    `mapstructure:"retry-delay-ms"`
}

type Server struct {
	Port              string   `mapstructure:"port"`
	ReadTimeoutMs     int      `mapstructure:"read-timeout-ms"`
	WriteTimeoutMs    int      `mapstructure:"write-timeout-ms"`
	IdleTimeoutMs     int      `mapstructure:"idle-timeout-ms"`
	ShutdownTimeoutMs int      `mapstructure:"shutdown-timeout-ms"`
	AllowedOrigins    []string `mapstructure:"allowed-origins"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL   string `mapstructure:"url"`
	Level string `mapstructure:"level"`
}

type Config struct {
	Database     Database     `mapstructure:"database"`
	Kafka        Kafka        `mapstructure:"kafka"`
	Gateway      Gateway      `mapstructure:"gateway"`
	Payment      Payment      `mapstructure:"payment"`
	Auth         Auth         `mapstructure:"auth"`
	Redis        Redis        `mapstructure:"redis"`
	Outbox       Outbox       `mapstructure:"outbox"`
	Notification Notification `mapstructure:"notification"`
	Server       Server       `mapstructure:"server"`
	Metrics      Metrics      `mapstructure:"metrics"`
	Logs         Logs         `mapstructure:"logs"`
}

var defaults = map[string]interface{}{
	"database.user":                 "postgres",
	"database.password":             "postgres",
	"database.name":                 "travel_booking",
	"database.host":                 "localhost",
	"database.port":                 "5432",
	"database.ssl-mode":             "disable",
	"database.migrate-on-start":     true,
	"kafka.broker.url":              "localhost:9092",
	"kafka.topic.payment-events":    "payment-events",
	"kafka.reader.group-id":         "travel-booking-notifier",
	"kafka.writer.batch-size":       100,
	"kafka.writer.batch-timeout-ms": 100,
	"gateway.base-url":              "https://api.razorpay.com",
	"gateway.timeout-ms":            10_000,
	"gateway.max-attempts":          3,
	"gateway.retry-delay-ms":        200,
	"payment.order-amount":          "100",
	"payment.currency":              "INR",
	"auth.cookie-name":              "session-token",
	"auth.sign-in-path":             "/signin",
	"redis.addr":                    "",
	"redis.password":                "",
	"redis.db":                      0,
	"redis.idempotency-ttl-ms":      600_000,
	"outbox.polling-interval-ms":    500,
	"outbox.fetch-size":             200,
	"outbox.reschedule-delay-ms":    10_000,
	"outbox.max-publish-attempts":   3,
	"notification.url":              "",
	"notification.timeout-ms":       10_000,
	"notification.parallelism":      100,
	"notification.max-attempts":     3,
	"notification.retry-delay-ms":   1_000,
	"server.port":                   "8080",
	"server.read-timeout-ms":        15_000,
	"server.write-timeout-ms":       15_000,
	"server.idle-timeout-ms":        60_000,
	"server.shutdown-timeout-ms":    10_000,
	"server.allowed-origins":        []string{},
	"metrics.url":                   "",
	"metrics.interval-ms":           10_000,
	"metrics.common-labels":         "",
	"logs.url":                      "",
	"logs.level":                    "info",
}

// secrets are read from their conventional environment names in addition
// to the config file.
var secrets = map[string]string{
	"gateway.key-id":     "RAZORPAY_KEY_ID",
	"gateway.key-secret": "RAZORPAY_KEY_SECRET",
	"auth.secret":        "AUTH_SECRET",
}

func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(path, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, env := range secrets {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations that would feed empty secrets into the
// gateway client, the signature check or the access gate. LoadConfig does not
// call it, so commands that need no secrets can run without them.
func (c *Config) Validate() error {
	var missing []string
	if c.Gateway.KeyID == "" {
		missing = append(missing, "gateway.key-id")
	}
	if c.Gateway.KeySecret == "" {
		missing = append(missing, "gateway.key-secret")
	}
	if c.Auth.Secret == "" {
		missing = append(missing, "auth.secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Gateway.BaseURL == "" {
		return errors.New("gateway.base-url must not be empty")
	}
	return nil
}

// ValidateAuth checks only what signing session tokens needs.
func (c *Config) ValidateAuth() error {
	if c.Auth.Secret == "" {
		return errors.New("missing required configuration: auth.secret")
	}
	return nil
}
