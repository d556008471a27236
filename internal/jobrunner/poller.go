package jobrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/campaign-dispatch/internal/queue"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollLimit    = 100
)

// DueSource hands out tasks whose run time has passed. A claimed task is
// leased to the caller: Ack drops it, Requeue gives it back, and a claim
// that is neither becomes due again after the source's visibility window.
type DueSource interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]queue.TaskMessage, error)
	Ack(ctx context.Context, handle string) error
	Requeue(ctx context.Context, msg queue.TaskMessage) error
}

// DuePoller moves due tasks from a DueSource onto their work queue.
type DuePoller struct {
	source    DueSource
	publisher queue.Publisher
	logger    *zap.Logger
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func NewDuePoller(
	source DueSource,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*DuePoller, error) {
	if source == nil {
		return nil, fmt.Errorf("due source is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if limit <= 0 {
		limit = defaultPollLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DuePoller{
		source:    source,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		now:       time.Now,
	}, nil
}

func (p *DuePoller) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := p.pollDue(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("due poller initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.pollDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Error("due poller scan failed", zap.Error(err))
			}
		}
	}
}

// pollDue publishes one batch of due tasks and returns how many went out.
func (p *DuePoller) pollDue(ctx context.Context) (int, error) {
	due, err := p.source.ClaimDue(ctx, p.now().UTC(), p.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to claim due tasks: %w", err)
	}

	published := 0
	for i := range due {
		msg := due[i]
		queueName := queue.QueueName(msg.Task)

		if err := p.publisher.Publish(ctx, queueName, msg); err != nil {
			p.logger.Error("failed to enqueue due task",
				zap.String("handle", msg.Handle),
				zap.String("queue", queueName),
				zap.Error(err),
			)
			if requeueErr := p.source.Requeue(ctx, msg); requeueErr != nil {
				p.logger.Error("failed to return task to runner",
					zap.String("handle", msg.Handle),
					zap.Error(requeueErr),
				)
			}
			continue
		}
		published++

		// An unacked task is published again later; delivery skips jobs
		// that are no longer scheduled.
		if err := p.source.Ack(ctx, msg.Handle); err != nil {
			p.logger.Warn("failed to ack published task",
				zap.String("handle", msg.Handle),
				zap.Error(err),
			)
		}
	}

	return published, nil
}
