package customer

import (
	"context"
	"fmt"
	"time"

	"crmflow/internal/broker"
	"crmflow/internal/config"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	apperrors "crmflow/pkg/errors"
	"crmflow/pkg/logging"
	"crmflow/pkg/metrics"
	"crmflow/pkg/models"
)

const consumerLabel = "customer"

// Consumer applies customer mutations from the customer stream. A message
// whose write fails stays pending and is replayed from the backlog after a
// restart, or taken over by another consumer once it has sat idle past the
// claim threshold; a message that can never apply is acknowledged and dropped.
type Consumer struct {
	reader *broker.Reader
	repo   Repository
	logger logger.Logger
	now    func() time.Time
}

func NewConsumer(transport broker.Transport, repo Repository, cfg config.CustomerConsumerConfig, streamCfg config.RedisStreamConfig, log logger.Logger) *Consumer {
	group := cfg.Group
	if group == "" {
		group = constants.CustomerGroup
	}
	return &Consumer{
		reader: broker.NewReader(transport, constants.CustomerStream, group, streamCfg.ConsumerName, broker.ReaderOptionsFrom(streamCfg)),
		repo:   repo,
		logger: log,
		now:    time.Now,
	}
}

// Run consumes until ctx is cancelled. Transport errors are logged and
// retried after the configured backoff.
func (c *Consumer) Run(ctx context.Context) error {
	ctx = logging.WithConsumer(logging.WithStream(ctx, c.reader.Stream()), c.reader.Consumer())
	if err := c.reader.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	c.logger.InfowCtx(ctx, "Started customer consumer", "group", c.reader.Group())

	for ctx.Err() == nil {
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.IncReadError(c.reader.Stream(), c.reader.Group())
			c.logger.ErrorwCtx(ctx, "Error reading customer stream", "error", err)
			_ = c.reader.Backoff(ctx)
		}
	}

	c.logger.InfowCtx(ctx, "Stopped customer consumer", "reason", "context canceled")
	return nil
}

// Poll reads one batch and applies it. It returns the number of messages
// read.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	msgs, err := c.reader.Next(ctx)
	if err != nil {
		return 0, err
	}

	for _, msg := range msgs {
		if !c.handle(ctx, msg) {
			continue
		}
		if err := c.reader.Ack(ctx, msg.ID); err != nil {
			c.logger.WarnwCtx(ctx, "Failed to acknowledge customer message",
				"error", err,
				"stream_message_id", msg.ID,
			)
		}
	}
	return len(msgs), nil
}

// handle reports whether msg should be acknowledged.
func (c *Consumer) handle(ctx context.Context, msg broker.Message) bool {
	start := time.Now()
	defer func() { metrics.ObserveProcessingDuration(consumerLabel, time.Since(start)) }()

	ev, err := broker.Decode(msg)
	if err != nil {
		c.logger.ErrorwCtx(logging.WithMessageID(ctx, msg.ID), "Dropping malformed customer message", "error", err)
		metrics.IncConsumerOutcome(consumerLabel, "poison")
		return true
	}

	msgCtx, span := broker.MessageContext(ctx, msg, ev)
	defer span.End()

	err = broker.Safe(func() error {
		m, err := ev.CustomerMutation()
		if err != nil {
			return apperrors.ErrMalformedPayload.WithCause(err)
		}
		return c.Apply(msgCtx, m)
	})

	switch {
	case err == nil:
		metrics.IncConsumerOutcome(consumerLabel, "applied")
		return true
	case apperrors.IsPermanent(err):
		c.logger.WarnwCtx(msgCtx, "Dropping customer message that cannot be applied",
			"operation", ev.Operation,
			"error", err,
		)
		metrics.IncConsumerOutcome(consumerLabel, "poison")
		return true
	default:
		span.RecordError(err)
		c.logger.ErrorwCtx(msgCtx, "Failed to apply customer message, leaving pending",
			"operation", ev.Operation,
			"error", err,
		)
		metrics.IncConsumerOutcome(consumerLabel, "failed")
		return false
	}
}

func (c *Consumer) Apply(ctx context.Context, m models.CustomerMutation) error {
	now := c.now()

	switch m := m.(type) {
	case models.CreateCustomer:
		cust := m.Customer
		cust.CreatedAt = now
		cust.UpdatedAt = now
		cust.RecentOrderIDs = nil
		if err := c.repo.Insert(ctx, &cust); err != nil {
			return fmt.Errorf("create customer %s: %w", cust.ID, err)
		}
		c.logger.DebugwCtx(ctx, "Customer created", "customer_id", cust.ID)
	case models.UpdateCustomer:
		if err := c.repo.Update(ctx, m.ID, m.Patch.Fields(), now); err != nil {
			return fmt.Errorf("update customer %s: %w", m.ID, err)
		}
	case models.DeleteCustomer:
		if err := c.repo.Delete(ctx, m.ID); err != nil {
			return fmt.Errorf("delete customer %s: %w", m.ID, err)
		}
	default:
		return apperrors.ErrMalformedPayload.WithDetail("message", fmt.Sprintf("unexpected customer mutation %T", m))
	}
	return nil
}
