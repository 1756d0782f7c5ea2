// Package config declares the environment-driven service configuration.
package config

import (
	"time"

	"github.com/pitabwire/frame/config"
)

// RunnerConfig holds configuration for the dialog runner service.
type RunnerConfig struct {
	config.ConfigurationDefault

	// Definitions and templates on disk.
	DefinitionsDir string `envDefault:"./definitions" env:"DEFINITIONS_DIR"`
	TemplatesDir   string `envDefault:"./templates"   env:"TEMPLATES_DIR"`
	WatchFiles     bool   `envDefault:"true"          env:"WATCH_FILES"`

	// Remote training service.
	TrainingServiceURL     string `envDefault:"http://localhost:8080" env:"TRAINING_SERVICE_URL"`
	TrainingServiceAPIKey  string `envDefault:""                      env:"TRAINING_SERVICE_API_KEY"`
	TrainingServiceTimeout int    `envDefault:"30"                    env:"TRAINING_SERVICE_TIMEOUT_SEC"`

	// Turn processing.
	SessionTimeoutSec int `envDefault:"1200" env:"SESSION_TIMEOUT_SEC"`
	QueueTimeoutSec   int `envDefault:"120"  env:"QUEUE_TIMEOUT_SEC"`
	MaxActionLoop     int `envDefault:"10"   env:"MAX_ACTION_LOOP"`
	ActionLoopDelayMs int `envDefault:"300"  env:"ACTION_LOOP_DELAY_MS"`

	// Conversation state: "memory" keeps it in process with a TTL,
	// "database" persists it through the service datastore.
	StorageBackend string `envDefault:"memory" env:"STORAGE_BACKEND"`
	MemoryTTLSec   int    `envDefault:"86400"  env:"MEMORY_TTL_SEC"`

	// Outbound webhooks.
	WebhookWorkers    int `envDefault:"16"  env:"WEBHOOK_WORKERS"`
	WebhookMaxRetries int `envDefault:"5"   env:"WEBHOOK_MAX_RETRIES"`
	WebhookTimeoutSec int `envDefault:"10"  env:"WEBHOOK_TIMEOUT_SEC"`
	WebhookBackoffSec int `envDefault:"1"   env:"WEBHOOK_BACKOFF_INITIAL_SEC"`
	WebhookBackoffMax int `envDefault:"300" env:"WEBHOOK_BACKOFF_MAX_SEC"`
	CBFailThreshold   int `envDefault:"5"   env:"CB_FAILURE_THRESHOLD"`
	CBResetTimeoutSec int `envDefault:"60"  env:"CB_RESET_TIMEOUT_SEC"`
}

// SessionTimeout returns the session inactivity timeout as a duration.
func (c *RunnerConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSec) * time.Second
}

// QueueTimeout returns the input queue timeout as a duration.
func (c *RunnerConfig) QueueTimeout() time.Duration {
	return time.Duration(c.QueueTimeoutSec) * time.Second
}

// ActionLoopDelay returns the inter-action delay as a duration.
func (c *RunnerConfig) ActionLoopDelay() time.Duration {
	return time.Duration(c.ActionLoopDelayMs) * time.Millisecond
}

// MemoryTTL returns the in-process store retention as a duration.
func (c *RunnerConfig) MemoryTTL() time.Duration {
	return time.Duration(c.MemoryTTLSec) * time.Second
}
