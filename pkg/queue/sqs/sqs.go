// Package sqs is an AWS SQS-backed queue.Queue, reusing the same AWS SDK
// major version and credential chain already wired for the S3 blob store
// (aws-sdk-go-v2/config, aws-sdk-go-v2/credentials). Visibility timeout
// and explicit DeleteMessage/ChangeMessageVisibility map directly onto
// Ack/Nack for this managed-queue variant.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/haulfs/haulfs/pkg/queue"
)

// Client is the subset of the SQS SDK client this queue needs.
type Client interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, opts ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Queue is an SQS-backed queue.Queue.
type Queue struct {
	client            Client
	queueURL          string
	visibilityTimeout int32
}

// New constructs a Queue against queueURL, with visibilityTimeout in
// seconds applied to each received message.
func New(client Client, queueURL string, visibilityTimeout int32) *Queue {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 300
	}
	return &Queue{client: client, queueURL: queueURL, visibilityTimeout: visibilityTimeout}
}

func (q *Queue) Enqueue(ctx context.Context, task queue.Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("queue/sqs: marshal task: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("queue/sqs: send message: %w", err)
	}
	return nil
}

func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (queue.Task, error) {
	waitSeconds := int32(timeout.Seconds())
	if waitSeconds > 20 {
		waitSeconds = 20 // SQS long-poll ceiling
	}
	if waitSeconds < 0 {
		waitSeconds = 0
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     waitSeconds,
		VisibilityTimeout:   q.visibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return queue.Task{}, fmt.Errorf("queue/sqs: receive message: %w", err)
	}
	if len(out.Messages) == 0 {
		return queue.Task{}, queue.ErrEmpty
	}

	msg := out.Messages[0]
	var task queue.Task
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &task); err != nil {
		return queue.Task{}, fmt.Errorf("queue/sqs: unmarshal task: %w", err)
	}
	task.ReceiptHandle = aws.ToString(msg.ReceiptHandle)
	return task, nil
}

func (q *Queue) Ack(ctx context.Context, task queue.Task) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(task.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("queue/sqs: delete message: %w", err)
	}
	return nil
}

// Nack sets the message's visibility timeout to zero so it becomes
// immediately available for redelivery.
func (q *Queue) Nack(ctx context.Context, task queue.Task) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(task.ReceiptHandle),
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("queue/sqs: change visibility: %w", err)
	}
	return nil
}

func (q *Queue) Close() error {
	return nil
}

var _ queue.Queue = (*Queue)(nil)
