package queue

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	defaultSQSWait   = 20 * time.Second
	maxSQSMessages   = 10
	sqsRetryBackoff  = 5 * time.Second
	defaultSQSRegion = "us-east-1"
	sqsDeleteTimeout = 10 * time.Second
)

// SQSAPI is the subset of the SQS API the consumer uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSConfig describes the queue S3 event notifications are delivered to.
type SQSConfig struct {
	QueueURL     string
	Region       string
	Endpoint     string // optional, e.g. a local SQS-compatible broker
	AccessKey    string
	SecretKey    string
	SessionToken string
	Wait         time.Duration

	// DrainTimeout bounds how long an in-flight message may run after Run's
	// context is cancelled. Defaults to 20s.
	DrainTimeout time.Duration
}

// NewSQSClient builds an SQS client with static credentials, or anonymous
// access when no access key is configured.
func NewSQSClient(cfg SQSConfig) *sqs.Client {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultSQSRegion
	}
	opts := sqs.Options{
		Region:      region,
		Credentials: aws.AnonymousCredentials{},
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
	}
	return sqs.New(opts)
}

// SQSConsumer long-polls one queue and forwards every notification it receives.
type SQSConsumer struct {
	client SQSAPI
	cfg    SQSConfig
	runner Runner
}

// NewSQSConsumer creates a consumer for cfg.QueueURL.
func NewSQSConsumer(client SQSAPI, cfg SQSConfig, runner Runner) (*SQSConsumer, error) {
	if strings.TrimSpace(cfg.QueueURL) == "" {
		return nil, fmt.Errorf("sqs: queue url is required")
	}
	if cfg.Wait <= 0 {
		cfg.Wait = defaultSQSWait
	}
	if cfg.Wait > defaultSQSWait {
		cfg.Wait = defaultSQSWait
	}
	return &SQSConsumer{client: client, cfg: cfg, runner: runner}, nil
}

// Run polls until ctx is cancelled. Receive errors are logged and retried
// after a pause.
func (c *SQSConsumer) Run(ctx context.Context) error {
	log.Printf("sqs: polling %s", c.cfg.QueueURL)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("sqs: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(sqsRetryBackoff):
			}
		}
	}
}

// poll receives one batch of messages and handles them in order. Processed
// messages are deleted. Malformed ones are left for the queue's redrive
// policy and interrupted ones reappear after their visibility timeout.
// It returns the number of messages received.
func (c *SQSConsumer) poll(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.cfg.QueueURL),
		MaxNumberOfMessages: maxSQSMessages,
		WaitTimeSeconds:     int32(c.cfg.Wait / time.Second),
	})
	if err != nil {
		return 0, fmt.Errorf("receive: %w", err)
	}
	for _, msg := range out.Messages {
		if ctx.Err() != nil {
			break
		}
		c.handle(ctx, msg)
	}
	return len(out.Messages), nil
}

func (c *SQSConsumer) handle(ctx context.Context, msg types.Message) {
	source := "sqs message " + aws.ToString(msg.MessageId)
	if err := process(ctx, c.runner, source, []byte(aws.ToString(msg.Body)), c.cfg.DrainTimeout); err != nil {
		log.Printf("sqs: %s: %v, not deleting", source, err)
		return
	}

	// The message is consumed; delete it even when shutdown has begun.
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sqsDeleteTimeout)
	defer cancel()
	if _, err := c.client.DeleteMessage(deleteCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		log.Printf("sqs: delete %s: %v", source, err)
	}
}
