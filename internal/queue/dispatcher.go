// Package queue provides the SQS-based producers that hand delivery work to
// downstream workers: per-attempt dispatch messages and settled-batch
// announcements.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"remindwell/internal/config"
	"remindwell/internal/types"
)

// maxEntriesPerCall is the SQS SendMessageBatch maximum.
const maxEntriesPerCall = 10

// pageSize bounds how many items ride in one DispatchMessage so a single
// worker invocation stays small.
const pageSize = 10

// SQSAPI is the subset of the SQS SDK client used by the dispatcher.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// Dispatcher publishes delivery work to the dispatch queue. It implements
// types.DeliveryTransport for per-attempt hand-offs and the orchestrator's
// batch log for settled-batch announcements.
type Dispatcher struct {
	client   SQSAPI
	queueURL string
	logger   *slog.Logger
}

var _ types.DeliveryTransport = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher publishing to the dispatch queue named
// in the AWS configuration.
func NewDispatcher(client SQSAPI, awsCfg config.AWSConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client:   client,
		queueURL: awsCfg.DispatchQueue,
		logger:   logger,
	}
}

// Deliver hands one delivery attempt to the downstream workers as a
// single-item DispatchMessage. A nil return means the attempt was accepted by
// the queue, not that the end device was reached; confirmation arrives out of
// band.
func (d *Dispatcher) Deliver(ctx context.Context, item types.WorkItem, method types.DeliveryMethod) error {
	msg := types.DispatchMessage{
		BatchID:     fmt.Sprintf("single_%s", uuid.New().String()),
		Priority:    item.EffectivePriority(),
		ScheduledAt: item.TargetAt,
		TraceID:     traceIDFrom(ctx),
		Items: []types.DispatchItem{
			{
				WorkItemID: item.ID,
				UserID:     item.UserID,
				PayloadRef: item.PayloadRef,
				Methods:    []types.DeliveryMethod{method},
				TargetAt:   item.TargetAt,
			},
		},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal DispatchMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"method": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(method)),
			},
			"priority": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Priority)),
			},
		},
	}

	if _, err := d.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamTransport,
			fmt.Sprintf("failed to send dispatch message to %s", d.queueURL), err)
	}

	d.logger.InfoContext(ctx, "dispatch message sent",
		"queue_url", d.queueURL,
		"item_id", item.ID,
		"method", string(method),
		"priority", string(msg.Priority),
	)
	return nil
}

// RecordBatch announces a settled batch to the dispatch queue, paged into
// DispatchMessages of at most pageSize items and sent with SendMessageBatch
// in chunks of at most ten entries per call (the SQS maximum). All pages of
// one batch share a trace ID.
func (d *Dispatcher) RecordBatch(ctx context.Context, batch types.Batch) error {
	traceID := traceIDFrom(ctx)
	if traceID == "" {
		traceID = uuid.New().String()
	}

	pages := paginate(batch, traceID)

	for i := 0; i < len(pages); i += maxEntriesPerCall {
		select {
		case <-ctx.Done():
			return fmt.Errorf("queue: context cancelled during batch announce: %w", ctx.Err())
		default:
		}

		end := i + maxEntriesPerCall
		if end > len(pages) {
			end = len(pages)
		}
		chunk := pages[i:end]

		entries := make([]sqsTypes.SendMessageBatchRequestEntry, len(chunk))
		for j, msg := range chunk {
			body, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("queue: failed to marshal DispatchMessage page: %w", err)
			}
			entries[j] = sqsTypes.SendMessageBatchRequestEntry{
				Id:          aws.String(fmt.Sprintf("page-%d", i+j)),
				MessageBody: aws.String(string(body)),
			}
		}

		output, err := d.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(d.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return types.NewAppError(types.ErrCodeUpstreamTransport,
				"SQS SendMessageBatch failed", err)
		}
		if len(output.Failed) > 0 {
			return types.NewAppError(types.ErrCodeUpstreamTransport,
				fmt.Sprintf("SQS SendMessageBatch had %d failures, first: code=%s, message=%s",
					len(output.Failed),
					aws.ToString(output.Failed[0].Code),
					aws.ToString(output.Failed[0].Message)),
				nil)
		}
	}

	d.logger.InfoContext(ctx, "batch announced",
		"queue_url", d.queueURL,
		"batch_id", batch.ID,
		"pages", len(pages),
		"items", len(batch.Items),
		"trace_id", traceID,
	)
	return nil
}

// paginate splits a batch into DispatchMessage pages of at most pageSize
// items each.
func paginate(batch types.Batch, traceID string) []types.DispatchMessage {
	var pages []types.DispatchMessage
	for i := 0; i < len(batch.Items); i += pageSize {
		end := i + pageSize
		if end > len(batch.Items) {
			end = len(batch.Items)
		}

		items := make([]types.DispatchItem, 0, end-i)
		for _, item := range batch.Items[i:end] {
			items = append(items, types.DispatchItem{
				WorkItemID: item.ID,
				UserID:     item.UserID,
				PayloadRef: item.PayloadRef,
				Methods:    item.Methods,
				TargetAt:   item.TargetAt,
			})
		}

		pages = append(pages, types.DispatchMessage{
			BatchID:     batch.ID,
			Strategy:    batch.Strategy,
			Priority:    batch.Priority,
			ScheduledAt: batch.ScheduledAt,
			Items:       items,
			TraceID:     traceID,
		})
	}
	if len(pages) == 0 {
		// An empty batch still gets one page so downstream consumers see it
		// settle.
		pages = append(pages, types.DispatchMessage{
			BatchID:     batch.ID,
			Strategy:    batch.Strategy,
			Priority:    batch.Priority,
			ScheduledAt: batch.ScheduledAt,
			TraceID:     traceID,
		})
	}
	return pages
}

func traceIDFrom(ctx context.Context) string {
	return types.GetRequestID(ctx)
}
