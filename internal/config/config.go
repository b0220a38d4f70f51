// internal/config/config.go
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config - engine settings, loaded from the environment.
type Config struct {
	ServerAddress string `mapstructure:"SERVER_ADDRESS"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	MigrationsURL string `mapstructure:"MIGRATIONS_URL"`
	AmqpURL       string `mapstructure:"AMQP_URL"`

	MailBaseURL string `mapstructure:"MAIL_BASE_URL"`
	MailAPIKey  string `mapstructure:"MAIL_API_KEY"`
	SiteBaseURL string `mapstructure:"SITE_BASE_URL"`

	MaxNotifyAttempts           int `mapstructure:"MAX_NOTIFY_ATTEMPTS"`
	NotifyBackoffBaseSeconds    int `mapstructure:"NOTIFY_BACKOFF_BASE_SECONDS"`
	DispatchQueueCapacity       int `mapstructure:"DISPATCH_QUEUE_CAPACITY"`
	StatsRecountIntervalSeconds int `mapstructure:"STATS_RECOUNT_INTERVAL_SECONDS"`
	ExternalCallTimeoutSeconds  int `mapstructure:"EXTERNAL_CALL_TIMEOUT_SECONDS"`
	TaskDeadlineSeconds         int `mapstructure:"TASK_DEADLINE_SECONDS"`
	ReconcileAfterSeconds       int `mapstructure:"RECONCILE_AFTER_SECONDS"`
	WorkerCount                 int `mapstructure:"WORKER_COUNT"`
}

var keys = map[string]any{
	"SERVER_ADDRESS":                 ":8080",
	"DATABASE_URL":                   "",
	"MIGRATIONS_URL":                 "file://migrations",
	"AMQP_URL":                       "",
	"MAIL_BASE_URL":                  "",
	"MAIL_API_KEY":                   "",
	"SITE_BASE_URL":                  "http://localhost:8080",
	"MAX_NOTIFY_ATTEMPTS":            5,
	"NOTIFY_BACKOFF_BASE_SECONDS":    30,
	"DISPATCH_QUEUE_CAPACITY":        10000,
	"STATS_RECOUNT_INTERVAL_SECONDS": 300,
	"EXTERNAL_CALL_TIMEOUT_SECONDS":  5,
	"TASK_DEADLINE_SECONDS":          30,
	"RECONCILE_AFTER_SECONDS":        3600,
	"WORKER_COUNT":                   8,
}

// Load reads the configuration from environment variables, with defaults
// for everything except the connection URLs.
func Load() (cfg Config, err error) {
	v := viper.New()
	for key, def := range keys {
		v.SetDefault(key, def)
		if err = v.BindEnv(key); err != nil {
			return
		}
	}
	err = v.Unmarshal(&cfg)
	return
}

func (c Config) ExternalCallTimeout() time.Duration {
	return time.Duration(c.ExternalCallTimeoutSeconds) * time.Second
}

func (c Config) TaskDeadline() time.Duration {
	return time.Duration(c.TaskDeadlineSeconds) * time.Second
}

func (c Config) NotifyBackoffBase() time.Duration {
	return time.Duration(c.NotifyBackoffBaseSeconds) * time.Second
}

func (c Config) StatsRecountInterval() time.Duration {
	return time.Duration(c.StatsRecountIntervalSeconds) * time.Second
}

func (c Config) ReconcileAfter() time.Duration {
	return time.Duration(c.ReconcileAfterSeconds) * time.Second
}
