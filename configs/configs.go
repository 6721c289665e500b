package configs

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	BackendCloudQueues = "cloudqueues"
	BackendSQS         = "sqs"
	BackendRedis       = "redis"
)

// Config defines all environment variables and derived config for the driver.
type Config struct {
	// Transformed time.Duration fields (not loaded from env directly)
	MessageTTLDuration         time.Duration `env:"-"`
	CloudQueuesTimeoutDuration time.Duration `env:"-"`
	WorkerWaitDuration         time.Duration `env:"-"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	QueueBackend           string   `env:"QUEUE_BACKEND" envDefault:"cloudqueues"`
	QueuePrefetch          int      `env:"QUEUE_PREFETCH" envDefault:"2"`
	QueueMessageTTLSeconds int      `env:"QUEUE_MESSAGE_TTL_SECONDS" envDefault:"43200"`
	QueueNames             []string `env:"QUEUE_NAMES" envSeparator:","`

	CloudQueuesIdentityURL string `env:"CLOUDQUEUES_IDENTITY_URL" envDefault:"https://identity.api.rackspacecloud.com/v2.0/"`
	CloudQueuesUsername    string `env:"CLOUDQUEUES_USERNAME"`
	CloudQueuesAPIKey      string `env:"CLOUDQUEUES_API_KEY"`
	CloudQueuesPassword    string `env:"CLOUDQUEUES_PASSWORD"`
	CloudQueuesTenant      string `env:"CLOUDQUEUES_TENANT"`
	CloudQueuesServiceName string `env:"CLOUDQUEUES_SERVICE_NAME" envDefault:"cloudQueues"`
	CloudQueuesRegion      string `env:"CLOUDQUEUES_REGION"`
	CloudQueuesURLType     string `env:"CLOUDQUEUES_URL_TYPE" envDefault:"publicURL"`
	CloudQueuesEndpoint    string `env:"CLOUDQUEUES_ENDPOINT"`
	CloudQueuesToken       string `env:"CLOUDQUEUES_TOKEN"`
	CloudQueuesClientID    string `env:"CLOUDQUEUES_CLIENT_ID"`
	CloudQueuesTimeout     int    `env:"CLOUDQUEUES_HTTP_TIMEOUT" envDefault:"30"`

	SQSRegion   string `env:"SQS_REGION"`
	SQSEndpoint string `env:"SQS_ENDPOINT"`

	QueueRedisEndpoint  string `env:"REDIS_QUEUE_ENDPOINT"`
	QueueRedisDB        int    `env:"REDIS_QUEUE_DB" envDefault:"0"`
	QueueRedisKeyPrefix string `env:"REDIS_QUEUE_KEY_PREFIX" envDefault:"queue-"`

	WorkerQueue       string `env:"WORKER_QUEUE"`
	WorkerWaitSeconds int    `env:"WORKER_WAIT_SECONDS" envDefault:"20"`
}

// Parse loads configuration from environment variables, validates and normalizes it.
func Parse() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.normalize()

	return &cfg, nil
}

// validate performs all required configuration checks.
func (c *Config) validate() error {
	if c.QueuePrefetch <= 0 || c.QueuePrefetch > 20 {
		return errors.New("QUEUE_PREFETCH must be between 1 and 20")
	}

	if c.QueueMessageTTLSeconds < 60 || c.QueueMessageTTLSeconds > 1209600 {
		return errors.New("QUEUE_MESSAGE_TTL_SECONDS must be between 60 and 1209600")
	}

	if c.WorkerWaitSeconds < 0 {
		return errors.New("WORKER_WAIT_SECONDS must not be negative")
	}

	switch c.QueueBackend {
	case BackendCloudQueues:
		if c.CloudQueuesTimeout <= 0 {
			return errors.New("CLOUDQUEUES_HTTP_TIMEOUT must be greater than 0")
		}
		if c.CloudQueuesURLType != "publicURL" && c.CloudQueuesURLType != "internalURL" {
			return errors.New("CLOUDQUEUES_URL_TYPE must be 'publicURL' or 'internalURL'")
		}
		if c.CloudQueuesEndpoint != "" && c.CloudQueuesToken != "" {
			return nil
		}
		if c.CloudQueuesUsername == "" {
			return errors.New("CLOUDQUEUES_USERNAME is required unless CLOUDQUEUES_ENDPOINT and CLOUDQUEUES_TOKEN are set")
		}
		if c.CloudQueuesAPIKey == "" && c.CloudQueuesPassword == "" {
			return errors.New("CLOUDQUEUES_API_KEY or CLOUDQUEUES_PASSWORD is required for Cloud Queues")
		}
	case BackendSQS:
		if c.SQSRegion == "" {
			return errors.New("SQS_REGION is required for SQS queue backend")
		}
	case BackendRedis:
		if c.QueueRedisEndpoint == "" {
			return errors.New("REDIS_QUEUE_ENDPOINT is required for Redis queue backend")
		}
	default:
		return errors.New("QUEUE_BACKEND must be 'cloudqueues', 'sqs' or 'redis'")
	}

	return nil
}

// normalize converts int values to duration and sets derived fields.
func (c *Config) normalize() {
	c.MessageTTLDuration = time.Duration(c.QueueMessageTTLSeconds) * time.Second
	c.CloudQueuesTimeoutDuration = time.Duration(c.CloudQueuesTimeout) * time.Second
	c.WorkerWaitDuration = time.Duration(c.WorkerWaitSeconds) * time.Second
}
