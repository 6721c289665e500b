package backend

import (
	"context"
	"fmt"

	"cloudqueues-driver/configs"
	"cloudqueues-driver/internal/app/driver"
	"cloudqueues-driver/internal/pkg/logger"
	"cloudqueues-driver/internal/pkg/queue"
	"cloudqueues-driver/internal/pkg/queue/cloudqueues"
	redisQueue "cloudqueues-driver/internal/pkg/queue/redis"
	sqsQueue "cloudqueues-driver/internal/pkg/queue/sqs"
)

// NewService connects to the backend selected by cfg.QueueBackend.
func NewService(ctx context.Context, cfg *configs.Config) (queue.Service, error) {
	switch cfg.QueueBackend {
	case configs.BackendCloudQueues:
		client, err := cloudqueues.NewClient(ctx, &cloudqueues.Config{
			IdentityURL: cfg.CloudQueuesIdentityURL,
			Username:    cfg.CloudQueuesUsername,
			APIKey:      cfg.CloudQueuesAPIKey,
			Password:    cfg.CloudQueuesPassword,
			TenantName:  cfg.CloudQueuesTenant,
			ServiceName: cfg.CloudQueuesServiceName,
			Region:      cfg.CloudQueuesRegion,
			URLType:     cfg.CloudQueuesURLType,
			Endpoint:    cfg.CloudQueuesEndpoint,
			Token:       cfg.CloudQueuesToken,
			ClientID:    cfg.CloudQueuesClientID,
			Timeout:     cfg.CloudQueuesTimeoutDuration,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to cloud queues: %w", err)
		}
		logger.Info("Using Cloud Queues at %s", client.Info().URL)
		return client, nil

	case configs.BackendSQS:
		client, err := sqsQueue.NewClient(ctx, cfg.SQSRegion, cfg.SQSEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQS client: %w", err)
		}
		logger.Info("Using SQS in %s", cfg.SQSRegion)
		return &sqsQueue.SqsActions{
			SqsClient: client,
			Config: &sqsQueue.Config{
				Region:   cfg.SQSRegion,
				Endpoint: cfg.SQSEndpoint,
			},
		}, nil

	case configs.BackendRedis:
		client := redisQueue.New(cfg.QueueRedisEndpoint, cfg.QueueRedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Using Redis at %s", cfg.QueueRedisEndpoint)
		return &redisQueue.RedisActions{
			Client: client,
			Config: &redisQueue.Config{
				Endpoint:  cfg.QueueRedisEndpoint,
				KeyPrefix: cfg.QueueRedisKeyPrefix,
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
}

// NewDriver builds the service and wraps it in a driver configured from cfg.
func NewDriver(ctx context.Context, cfg *configs.Config) (*driver.Driver, error) {
	svc, err := NewService(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return driver.New(svc, driver.Options{
		Prefetch: cfg.QueuePrefetch,
		TTL:      cfg.MessageTTLDuration,
		Queues:   cfg.QueueNames,
	})
}
