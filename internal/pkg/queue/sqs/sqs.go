package sqs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"cloudqueues-driver/internal/pkg/logger"
	"cloudqueues-driver/internal/pkg/queue"
)

const (
	// MaxBatchSize is the SQS limit for receive and send batches.
	MaxBatchSize = 10
	// maxVisibility is the SQS limit for a visibility timeout (12h).
	maxVisibility = 12 * time.Hour
)

// API is the subset of *sqs.Client the backend uses.
type API interface {
	ListQueues(ctx context.Context, in *sqs.ListQueuesInput, optFns ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error)
	CreateQueue(ctx context.Context, in *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	DeleteQueue(ctx context.Context, in *sqs.DeleteQueueInput, optFns ...func(*sqs.Options)) (*sqs.DeleteQueueOutput, error)
	GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SqsActions implements queue.Service on AWS SQS.
type SqsActions struct {
	SqsClient API     // AWS SQS client
	Config    *Config // Configuration for SQS
}

type Config struct {
	Region          string // AWS region
	Endpoint        string // optional endpoint override, e.g. a local emulator
	QueueNamePrefix string // filter applied to ListQueues
}

var _ queue.Service = (*SqsActions)(nil)

// NewClient creates a new sqs client
func NewClient(ctx context.Context, region, endpoint string) (*sqs.Client, error) {
	// Load the Shared AWS Configuration
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// ListQueues returns the names of all queues, following pagination.
func (a *SqsActions) ListQueues(ctx context.Context) ([]string, error) {
	in := &sqs.ListQueuesInput{MaxResults: aws.Int32(1000)}
	if a.Config.QueueNamePrefix != "" {
		in.QueueNamePrefix = aws.String(a.Config.QueueNamePrefix)
	}

	var names []string
	pager := sqs.NewListQueuesPaginator(a.SqsClient, in)
	for pager.HasMorePages() {
		out, err := pager.NextPage(ctx)
		if err != nil {
			logger.ErrorCtx(ctx, "SQS ListQueues error: %s", err)
			return nil, err
		}
		for _, u := range out.QueueUrls {
			names = append(names, path.Base(u))
		}
	}
	return names, nil
}

func (a *SqsActions) CreateQueue(ctx context.Context, name string) (queue.Queue, error) {
	out, err := a.SqsClient.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(name)})
	if err != nil {
		logger.ErrorCtx(ctx, "unable to create SQS queue %s: %s", name, err)
		return nil, err
	}
	return &Queue{actions: a, name: name, url: aws.ToString(out.QueueUrl)}, nil
}

func (a *SqsActions) Queue(name string) queue.Queue {
	return &Queue{actions: a, name: name}
}

func (a *SqsActions) Info() queue.Info {
	return queue.Info{
		Name:   "sqs",
		URL:    a.Config.Endpoint,
		Region: a.Config.Region,
	}
}

// Queue is a handle on one SQS queue. The queue URL is looked up on first use.
type Queue struct {
	actions *SqsActions
	name    string
	url     string
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) queueURL(ctx context.Context) (*string, error) {
	if q.url != "" {
		return aws.String(q.url), nil
	}
	out, err := q.actions.SqsClient.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(q.name)})
	if err != nil {
		return nil, q.mapError(err)
	}
	q.url = aws.ToString(out.QueueUrl)
	return out.QueueUrl, nil
}

// mapError tags missing-queue errors with queue.ErrNotFound and drops the
// cached URL so a recreated queue is looked up again.
func (q *Queue) mapError(err error) error {
	if !isNotFound(err) {
		return err
	}
	q.url = ""
	return fmt.Errorf("%w: %w", queue.ErrNotFound, err)
}

func isNotFound(err error) bool {
	var qne *types.QueueDoesNotExist
	if errors.As(err, &qne) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AWS.SimpleQueueService.NonExistentQueue", "QueueDoesNotExist":
			return true
		}
	}
	return false
}

func (q *Queue) Delete(ctx context.Context) error {
	u, err := q.queueURL(ctx)
	if err != nil {
		return err
	}
	if _, err := q.actions.SqsClient.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: u}); err != nil {
		return q.mapError(err)
	}
	q.url = ""
	return nil
}

func (q *Queue) Stats(ctx context.Context) (queue.Stats, error) {
	u, err := q.queueURL(ctx)
	if err != nil {
		return queue.Stats{}, err
	}
	out, err := q.actions.SqsClient.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: u,
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		},
	})
	if err != nil {
		return queue.Stats{}, q.mapError(err)
	}
	free, _ := strconv.Atoi(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)])
	claimed, _ := strconv.Atoi(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)])
	return queue.Stats{Claimed: claimed, Free: free, Total: free + claimed}, nil
}

// CreateMessages sends msgs in batches of ten. SQS has no per-message TTL;
// the queue's retention period applies.
func (q *Queue) CreateMessages(ctx context.Context, msgs ...queue.NewMessage) error {
	u, err := q.queueURL(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(msgs); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(msgs))
		entries := make([]types.SendMessageBatchRequestEntry, 0, end-start)
		for i, m := range msgs[start:end] {
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:          aws.String(strconv.Itoa(start + i)),
				MessageBody: aws.String(m.Body),
			})
		}
		out, err := q.actions.SqsClient.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: u,
			Entries:  entries,
		})
		if err != nil {
			return q.mapError(err)
		}
		if len(out.Failed) > 0 {
			f := out.Failed[0]
			return fmt.Errorf("sqs: %d of %d messages rejected, first %s: %s",
				len(out.Failed), len(entries), aws.ToString(f.Code), aws.ToString(f.Message))
		}
	}
	return nil
}

// ClaimMessages receives up to limit messages, hiding them for ttl.
func (q *Queue) ClaimMessages(ctx context.Context, limit int, ttl time.Duration) ([]queue.Claimed, error) {
	u, err := q.queueURL(ctx)
	if err != nil {
		return nil, err
	}
	limit = max(1, min(limit, MaxBatchSize))
	ttl = min(ttl, maxVisibility)

	result, err := q.actions.SqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            u,
		MaxNumberOfMessages: int32(limit),
		VisibilityTimeout:   int32(ttl / time.Second),
		WaitTimeSeconds:     0,
	})
	if err != nil {
		logger.ErrorCtx(ctx, "SQS ReceiveMessage error: %s", err)
		return nil, q.mapError(err)
	}

	claims := make([]queue.Claimed, 0, len(result.Messages))
	for _, m := range result.Messages {
		claims = append(claims, queue.Claimed{
			Body:    aws.ToString(m.Body),
			Receipt: aws.ToString(m.ReceiptHandle),
			ClaimID: aws.ToString(m.MessageId),
		})
	}
	return claims, nil
}

// DeleteClaimed deletes a received message by its receipt handle.
func (q *Queue) DeleteClaimed(ctx context.Context, c queue.Claimed) error {
	u, err := q.queueURL(ctx)
	if err != nil {
		return err
	}
	_, err = q.actions.SqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      u,
		ReceiptHandle: aws.String(c.Receipt),
	})
	if err != nil {
		logger.ErrorCtx(ctx, "unable to delete message from queue %s", q.name)
		return q.mapError(err)
	}
	return nil
}

// ListMessages is not possible on SQS without claiming messages.
func (q *Queue) ListMessages(ctx context.Context) queue.MessageIterator {
	return unsupportedIterator{}
}

type unsupportedIterator struct{}

func (unsupportedIterator) Next() bool             { return false }
func (unsupportedIterator) Message() queue.Message { return queue.Message{} }
func (unsupportedIterator) Err() error {
	return fmt.Errorf("sqs: list messages: %w", queue.ErrUnsupported)
}
