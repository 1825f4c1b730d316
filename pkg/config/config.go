package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Port     int           `json:"port"`
	Redis    RedisConfig   `json:"redis"`
	Logging  LoggingConfig `json:"logging"`
	Breakers BreakerConfig `json:"breakers"`
	Notify   NotifyConfig  `json:"notify"`
	Stream   StreamConfig  `json:"stream"`
	Anomaly  AnomalyConfig `json:"anomaly"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// BreakerConfig contains default circuit breaker thresholds
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	Timeout          time.Duration `json:"timeout"`
}

// NotifyConfig contains notification channel transport settings.
// An empty value means the channel is not configured and its handler skips.
type NotifyConfig struct {
	MaxRetries int `json:"max_retries"`

	TelegramBotToken string `json:"telegram_bot_token"`
	TelegramChatID   string `json:"telegram_chat_id"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUser     string `json:"smtp_user"`
	SMTPPassword string `json:"smtp_password"`
	EmailFrom    string `json:"email_from"`
	EmailTo      string `json:"email_to"`

	SlackWebhookURL     string `json:"slack_webhook_url"`
	PagerDutyRoutingKey string `json:"pagerduty_routing_key"`
	WebhookURL          string `json:"webhook_url"`
}

// StreamConfig contains log stream configuration
type StreamConfig struct {
	StreamKey     string        `json:"stream_key"`
	Group         string        `json:"group"`
	MaxLen        int64         `json:"max_len"`
	BatchSize     int64         `json:"batch_size"`
	FlushInterval time.Duration `json:"flush_interval"`
	BlockTimeout  time.Duration `json:"block_timeout"`
}

// AnomalyConfig contains anomaly detection thresholds
type AnomalyConfig struct {
	Window         time.Duration `json:"window"`
	ErrorThreshold int           `json:"error_threshold"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Port: getEnvInt("PORT", 8080),
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Breakers: BreakerConfig{
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			SuccessThreshold: getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2),
			Timeout:          getEnvDuration("BREAKER_TIMEOUT", 30*time.Second),
		},
		Notify: NotifyConfig{
			MaxRetries:          getEnvInt("NOTIFY_MAX_RETRIES", 3),
			TelegramBotToken:    getEnvString("TELEGRAM_BOT_TOKEN", ""),
			TelegramChatID:      getEnvString("TELEGRAM_CHAT_ID", ""),
			SMTPHost:            getEnvString("SMTP_HOST", ""),
			SMTPPort:            getEnvInt("SMTP_PORT", 587),
			SMTPUser:            getEnvString("SMTP_USER", ""),
			SMTPPassword:        getEnvString("SMTP_PASSWORD", ""),
			EmailFrom:           getEnvString("EMAIL_FROM", ""),
			EmailTo:             getEnvString("EMAIL_TO", ""),
			SlackWebhookURL:     getEnvString("SLACK_WEBHOOK_URL", ""),
			PagerDutyRoutingKey: getEnvString("PAGERDUTY_ROUTING_KEY", ""),
			WebhookURL:          getEnvString("CUSTOM_WEBHOOK_URL", ""),
		},
		Stream: StreamConfig{
			StreamKey:     getEnvString("STREAM_KEY", "opspulse:logs:stream"),
			Group:         getEnvString("STREAM_GROUP", "opspulse-processors"),
			MaxLen:        getEnvInt64("STREAM_MAX_LEN", 100000),
			BatchSize:     getEnvInt64("STREAM_BATCH_SIZE", 100),
			FlushInterval: getEnvDuration("STREAM_FLUSH_INTERVAL", 5*time.Second),
			BlockTimeout:  getEnvDuration("STREAM_BLOCK_TIMEOUT", 5*time.Second),
		},
		Anomaly: AnomalyConfig{
			Window:         getEnvDuration("ANOMALY_WINDOW", 60*time.Second),
			ErrorThreshold: getEnvInt("ANOMALY_ERROR_THRESHOLD", 10),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Stream.BatchSize <= 0 {
		return fmt.Errorf("stream batch size must be positive")
	}

	if c.Stream.MaxLen <= 0 {
		return fmt.Errorf("stream max length must be positive")
	}

	if c.Anomaly.ErrorThreshold <= 0 {
		return fmt.Errorf("anomaly error threshold must be positive")
	}

	if c.Breakers.FailureThreshold <= 0 || c.Breakers.SuccessThreshold <= 0 {
		return fmt.Errorf("breaker thresholds must be positive")
	}

	return nil
}

// RedisURL returns the Redis connection URL
func (c *Config) RedisURL() string {
	if c.Redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d",
			c.Redis.Password,
			c.Redis.Host,
			c.Redis.Port,
			c.Redis.DB,
		)
	}
	return fmt.Sprintf("redis://%s:%d/%d",
		c.Redis.Host,
		c.Redis.Port,
		c.Redis.DB,
	)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
