package queue

import (
	"context"
	"errors"
	"fmt"
)

// Publisher publishes due task messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg TaskMessage) error
	Close() error
}

// ErrReject makes a consumer dead-letter the message instead of requeueing it.
var ErrReject = errors.New("reject message")

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg TaskMessage) error

// Consumer consumes task messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// SendEmailQueue carries campaign.email.send tasks once they are due.
const SendEmailQueue = "campaign.email.send"

var workQueues = []string{
	SendEmailQueue,
}

// QueueName returns the work queue for a task name. Task names are used
// verbatim, e.g. campaign.email.send.
func QueueName(task string) string {
	return task
}

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.campaign.email.send.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all work queues.
func WorkQueueNames() []string {
	queues := make([]string, len(workQueues))
	copy(queues, workQueues)
	return queues
}

// DLQNames returns all dead-letter queues.
func DLQNames() []string {
	queues := make([]string, 0, len(workQueues))
	for _, q := range workQueues {
		queues = append(queues, DLQName(q))
	}
	return queues
}

// IsWorkQueue reports whether name is a declared work queue.
func IsWorkQueue(name string) bool {
	for _, q := range workQueues {
		if q == name {
			return true
		}
	}
	return false
}
