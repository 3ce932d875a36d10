// Package sqs publishes sync job outcome events for downstream consumers
// (reporting, alerting on failed branch syncs).
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/db"
)

type Config struct {
	Region   string
	QueueURL string
}

// OutcomeEvent is the message body for one resolved job.
type OutcomeEvent struct {
	JobID       int64     `json:"job_id"`
	BranchID    int64     `json:"branch_id"`
	RegisterID  int64     `json:"register_id"`
	PayloadDate string    `json:"payload_date"`
	Initial     bool      `json:"initial"`
	State       string    `json:"state"`
	ClaimedBy   string    `json:"claimed_by,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Producer sends outcome events to a single queue.
type Producer struct {
	client   sqsAPI
	queueURL string
	logger   *zap.Logger
	now      func() time.Time
}

func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("sqs producer needs a queue url")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs outcome producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return newProducer(sqs.NewFromConfig(awsCfg), cfg.QueueURL, logger), nil
}

func newProducer(client sqsAPI, queueURL string, logger *zap.Logger) *Producer {
	return &Producer{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
		now:      time.Now,
	}
}

// NewEvent builds the event for a resolved job.
func NewEvent(job *db.SyncJob, now time.Time) OutcomeEvent {
	ev := OutcomeEvent{
		JobID:       job.ID,
		BranchID:    job.BranchID,
		RegisterID:  job.RegisterID,
		PayloadDate: job.PayloadDate.Format(time.DateOnly),
		Initial:     job.Initial,
		State:       string(job.State),
		ResolvedAt:  now.UTC(),
	}
	if job.ResolvedAt != nil {
		ev.ResolvedAt = job.ResolvedAt.UTC()
	}
	if job.ClaimedBy != nil {
		ev.ClaimedBy = *job.ClaimedBy
	}
	if job.ErrorDetail != nil {
		ev.ErrorDetail = *job.ErrorDetail
	}
	return ev
}

// PublishOutcome sends one event per resolved job. Jobs that are not in a
// terminal state are rejected.
func (p *Producer) PublishOutcome(ctx context.Context, job *db.SyncJob) error {
	if !job.State.Terminal() {
		return fmt.Errorf("job %d is %s, not resolved", job.ID, job.State)
	}

	body, err := json.Marshal(NewEvent(job, p.now()))
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"state": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(job.State)),
			},
			"branch_id": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.FormatInt(job.BranchID, 10)),
			},
		},
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		p.logger.Error("failed to send outcome to sqs",
			zap.Error(err),
			zap.Int64("job_id", job.ID),
		)
		return fmt.Errorf("sqs send failed: %w", err)
	}

	p.logger.Debug("job outcome published",
		zap.Int64("job_id", job.ID),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}
