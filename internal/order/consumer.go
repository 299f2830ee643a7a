package order

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
	"crmflow/pkg/retry"
)

const consumerLabel = "order"

// Customers is the part of the customer store the order consumer depends on.
type Customers interface {
	Get(ctx context.Context, id string) (*models.Customer, error)
	RecordPurchase(ctx context.Context, customerID, orderID string, amount float64, at time.Time) (bool, error)
}

type outcome string

const (
	outcomeApplied   outcome = "applied"
	outcomeWaiting   outcome = "waiting"
	outcomeFailed    outcome = "failed"
	outcomePoison    outcome = "poison"
	outcomeAbandoned outcome = "abandoned"
)

func (o outcome) ack() bool {
	return o == outcomeApplied || o == outcomePoison || o == outcomeAbandoned
}

// Consumer applies order mutations. An order whose customer is not visible
// yet stays pending and is claimed again once its backoff has elapsed; the
// transport's delivery count is the attempt counter, so retry state is shared
// by every instance in the group and survives restarts.
type Consumer struct {
	reader    *broker.Reader
	transport broker.Transport
	orders    Repository
	customers Customers
	logger    logger.Logger

	schedule     retry.Schedule
	maxAttempts  int
	tickInterval time.Duration
	scanCount    int64

	now func() time.Time
}

func NewConsumer(transport broker.Transport, orders Repository, customers Customers, cfg config.OrderConsumerConfig, streamCfg config.RedisStreamConfig, log logger.Logger) *Consumer {
	group := cfg.Group
	if group == "" {
		group = constants.OrderGroup
	}
	opts := broker.ReaderOptionsFrom(streamCfg)
	opts.SkipBacklog = true
	opts.ClaimIdle = 0

	c := &Consumer{
		reader:       broker.NewReader(transport, constants.OrderStream, group, streamCfg.ConsumerName, opts),
		transport:    transport,
		orders:       orders,
		customers:    customers,
		logger:       log,
		schedule:     retry.NewSchedule(cfg.BackoffBase, cfg.BackoffMax),
		maxAttempts:  cfg.MaxAttempts,
		tickInterval: cfg.TickInterval,
		scanCount:    cfg.PendingScanCount,
		now:          time.Now,
	}
	if c.schedule.Base <= 0 {
		c.schedule.Base = constants.DefaultOrderBackoffBase
	}
	if c.schedule.Max <= 0 {
		c.schedule.Max = constants.DefaultOrderBackoffMax
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = constants.DefaultOrderMaxAttempts
	}
	if c.tickInterval <= 0 {
		c.tickInterval = constants.DefaultOrderTickInterval
	}
	if c.scanCount <= 0 {
		c.scanCount = constants.DefaultOrderPendingScanSize
	}
	return c
}

func (c *Consumer) Run(ctx context.Context) error {
	ctx = logging.WithConsumer(logging.WithStream(ctx, c.reader.Stream()), c.reader.Consumer())
	if err := c.reader.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	c.logger.InfowCtx(ctx, "Started order consumer",
		"group", c.reader.Group(),
		"max_attempts", c.maxAttempts,
		"backoff_base", c.schedule.Base,
		"backoff_max", c.schedule.Max,
	)

	for ctx.Err() == nil {
		if err := c.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.IncReadError(c.reader.Stream(), c.reader.Group())
			c.logger.ErrorwCtx(ctx, "Error in order consumer tick", "error", err)
			_ = c.reader.Backoff(ctx)
			continue
		}
		_ = broker.Sleep(ctx, c.tickInterval)
	}

	c.logger.InfowCtx(ctx, "Stopped order consumer", "reason", "context canceled")
	return nil
}

// Tick reads new messages, then claims and re-processes the group's pending
// entries whose backoff has elapsed, whichever consumer holds them. Entries
// left behind by a stopped instance are picked up the same way.
func (c *Consumer) Tick(ctx context.Context) error {
	msgs, err := c.reader.Next(ctx)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		c.process(ctx, msg, 1)
	}

	return c.retryPending(ctx)
}

func (c *Consumer) retryPending(ctx context.Context) error {
	stream, group, consumer := c.reader.Stream(), c.reader.Group(), c.reader.Consumer()

	entries, err := c.transport.PendingRange(ctx, stream, group, "", c.scanCount)
	if err != nil {
		return fmt.Errorf("failed to scan pending orders: %w", err)
	}

	for _, pe := range entries {
		attempts := int(pe.DeliveryCount)
		if !c.schedule.Due(attempts, pe.Idle) {
			continue
		}

		claimed, err := c.transport.Claim(ctx, stream, group, consumer, c.schedule.Delay(attempts), pe.ID)
		if err != nil {
			return fmt.Errorf("failed to claim order %s: %w", pe.ID, err)
		}
		for _, msg := range claimed {
			attempt := msg.DeliveryCount
			if attempt == 0 {
				attempt = pe.DeliveryCount + 1
			}
			metrics.OrderRetryAttemptsTotal.Inc()
			c.process(ctx, msg, attempt)
		}
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, msg broker.Message, attempt int64) {
	start := time.Now()
	defer func() { metrics.ObserveProcessingDuration(consumerLabel, time.Since(start)) }()

	result := c.handle(ctx, msg, attempt)
	metrics.IncConsumerOutcome(consumerLabel, string(result))
	if !result.ack() {
		return
	}
	if err := c.reader.Ack(ctx, msg.ID); err != nil {
		c.logger.WarnwCtx(ctx, "Failed to acknowledge order message",
			"error", err,
			"stream_message_id", msg.ID,
		)
	}
}

func (c *Consumer) handle(ctx context.Context, msg broker.Message, attempt int64) outcome {
	ev, err := broker.Decode(msg)
	if err != nil {
		c.logger.ErrorwCtx(logging.WithMessageID(ctx, msg.ID), "Dropping malformed order message", "error", err)
		return outcomePoison
	}

	msgCtx, span := broker.MessageContext(ctx, msg, ev)
	defer span.End()

	var result outcome
	err = broker.Safe(func() error {
		m, err := ev.OrderMutation()
		if err != nil {
			return apperrors.ErrMalformedPayload.WithCause(err)
		}
		result, err = c.apply(msgCtx, m, attempt)
		return err
	})

	switch {
	case err == nil:
		return result
	case apperrors.IsPermanent(err):
		c.logger.WarnwCtx(msgCtx, "Dropping order message that cannot be applied",
			"operation", ev.Operation,
			"error", err,
		)
		return outcomePoison
	default:
		span.RecordError(err)
		c.logger.ErrorwCtx(msgCtx, "Failed to apply order message, leaving pending",
			"operation", ev.Operation,
			"attempt", attempt,
			"error", err,
		)
		return outcomeFailed
	}
}

func (c *Consumer) apply(ctx context.Context, m models.OrderMutation, attempt int64) (outcome, error) {
	now := c.now()

	switch m := m.(type) {
	case models.CreateOrder:
		return c.create(ctx, m.Order, attempt, now)
	case models.UpdateOrder:
		if err := c.orders.Update(ctx, m.ID, m.Patch.Fields(), now); err != nil {
			return "", fmt.Errorf("update order %s: %w", m.ID, err)
		}
		return outcomeApplied, nil
	case models.DeleteOrder:
		if err := c.orders.Delete(ctx, m.ID); err != nil {
			return "", fmt.Errorf("delete order %s: %w", m.ID, err)
		}
		return outcomeApplied, nil
	default:
		return "", apperrors.ErrMalformedPayload.WithDetail("message", fmt.Sprintf("unexpected order mutation %T", m))
	}
}

func (c *Consumer) create(ctx context.Context, o models.Order, attempt int64, now time.Time) (outcome, error) {
	_, err := c.customers.Get(ctx, o.CustomerID)
	if apperrors.IsNotFound(err) {
		if attempt >= int64(c.maxAttempts) {
			metrics.OrderAbandonedTotal.Inc()
			c.logger.ErrorwCtx(ctx, "Abandoning order, customer never appeared",
				"order_id", o.ID,
				"customer_id", o.CustomerID,
				"attempts", attempt,
			)
			return outcomeAbandoned, nil
		}
		c.logger.InfowCtx(ctx, "Customer not found yet, order will be retried",
			"order_id", o.ID,
			"customer_id", o.CustomerID,
			"attempt", attempt,
			"next_retry_in", c.schedule.Delay(int(attempt)),
		)
		return outcomeWaiting, nil
	}
	if err != nil {
		return "", fmt.Errorf("look up customer %s: %w", o.CustomerID, err)
	}

	o.CreatedAt = now
	o.UpdatedAt = now
	if err := c.orders.Insert(ctx, &o); err != nil {
		return "", fmt.Errorf("create order %s: %w", o.ID, err)
	}

	applied, err := c.customers.RecordPurchase(ctx, o.CustomerID, o.ID, o.Amount, o.OrderDate)
	if err != nil {
		return "", fmt.Errorf("record purchase for order %s: %w", o.ID, err)
	}
	c.logger.DebugwCtx(ctx, "Order applied",
		"order_id", o.ID,
		"customer_id", o.CustomerID,
		"amount", o.Amount,
		"already_counted", !applied,
	)
	return outcomeApplied, nil
}
