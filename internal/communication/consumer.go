package communication

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

const consumerLabel = "communication"

// bufferFactor caps buffered status updates at this many batches. Reading
// pauses at the cap until a flush succeeds.
const bufferFactor = 10

const (
	triggerSize     = "size"
	triggerInterval = "interval"
	triggerShutdown = "shutdown"
)

// Consumer applies communication log events. Log entry creates are written
// immediately; delivery status updates are buffered and written with one
// bulk update when the batch is full or the flush interval has passed.
type Consumer struct {
	reader *broker.Reader
	repo   Repository
	logger logger.Logger

	batchSize     int
	maxBuffered   int
	flushInterval time.Duration
	flushTimeout  time.Duration
	ackAfterFlush bool

	batch       []models.StatusUpdate
	batchAcks   []string
	lastAttempt time.Time
	failing     bool

	now func() time.Time
}

func NewConsumer(transport broker.Transport, repo Repository, cfg config.CommunicationConsumerConfig, streamCfg config.RedisStreamConfig, log logger.Logger) *Consumer {
	group := cfg.Group
	if group == "" {
		group = constants.CommunicationGroup
	}

	c := &Consumer{
		reader:        broker.NewReader(transport, constants.CommunicationStream, group, streamCfg.ConsumerName, broker.ReaderOptionsFrom(streamCfg)),
		repo:          repo,
		logger:        log,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		flushTimeout:  cfg.FlushTimeout,
		ackAfterFlush: cfg.AckMode != constants.AckModeBeforeFlush,
		now:           time.Now,
	}
	if c.batchSize <= 0 {
		c.batchSize = constants.DefaultCommunicationBatchSize
	}
	if c.flushInterval <= 0 {
		c.flushInterval = constants.DefaultCommunicationFlushInterval
	}
	if c.flushTimeout <= 0 {
		c.flushTimeout = constants.DefaultCommunicationFlushTimeout
	}
	c.maxBuffered = c.batchSize * bufferFactor
	c.lastAttempt = c.now()
	return c
}

// Run consumes until ctx is cancelled, then flushes what is still buffered
// using a fresh context bounded by the flush timeout.
func (c *Consumer) Run(ctx context.Context) error {
	ctx = logging.WithConsumer(logging.WithStream(ctx, c.reader.Stream()), c.reader.Consumer())
	if err := c.reader.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	c.logger.InfowCtx(ctx, "Started communication consumer",
		"group", c.reader.Group(),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
		"ack_after_flush", c.ackAfterFlush,
	)

	for ctx.Err() == nil {
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.IncReadError(c.reader.Stream(), c.reader.Group())
			c.logger.ErrorwCtx(ctx, "Error reading communication stream", "error", err)
			_ = c.reader.Backoff(ctx)
		}
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flushTimeout)
	defer cancel()
	if err := c.Flush(flushCtx, triggerShutdown); err != nil {
		c.logger.ErrorwCtx(flushCtx, "Dropping unflushed status updates on shutdown",
			"error", err,
			"pending_updates", len(c.batch),
		)
	}

	c.logger.InfowCtx(ctx, "Stopped communication consumer", "reason", "context canceled")
	return nil
}

// Poll reads one batch of messages, buffers or applies them, and flushes when
// a threshold is reached. It returns the number of messages read. While the
// buffer is at its cap nothing is read; Poll waits out the flush interval and
// retries the write instead.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	if len(c.batch) >= c.maxBuffered {
		return 0, c.flushFullBuffer(ctx)
	}

	msgs, err := c.reader.Next(ctx)
	if err != nil {
		return 0, err
	}

	for _, msg := range msgs {
		c.handle(ctx, msg)
		if len(c.batch) >= c.batchSize && c.canAttempt() {
			_ = c.Flush(ctx, triggerSize)
		}
	}

	if len(c.batch) > 0 && c.now().Sub(c.lastAttempt) >= c.flushInterval {
		_ = c.Flush(ctx, triggerInterval)
	}
	return len(msgs), nil
}

func (c *Consumer) flushFullBuffer(ctx context.Context) error {
	if wait := c.flushInterval - c.now().Sub(c.lastAttempt); wait > 0 {
		if err := broker.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	c.logger.WarnwCtx(ctx, "Status update buffer full, reading paused until flush succeeds",
		"pending_updates", len(c.batch),
		"max_buffered", c.maxBuffered,
	)
	_ = c.Flush(ctx, triggerSize)
	return nil
}

// canAttempt holds off size-triggered flushes for one interval after a
// failed write.
func (c *Consumer) canAttempt() bool {
	return !c.failing || c.now().Sub(c.lastAttempt) >= c.flushInterval
}

// Pending returns the number of buffered status updates.
func (c *Consumer) Pending() int {
	return len(c.batch)
}

func (c *Consumer) handle(ctx context.Context, msg broker.Message) {
	start := time.Now()
	defer func() { metrics.ObserveProcessingDuration(consumerLabel, time.Since(start)) }()

	ev, err := broker.Decode(msg)
	if err != nil {
		c.logger.ErrorwCtx(logging.WithMessageID(ctx, msg.ID), "Dropping malformed communication message", "error", err)
		metrics.IncConsumerOutcome(consumerLabel, "poison")
		c.ack(ctx, msg.ID)
		return
	}

	msgCtx, span := broker.MessageContext(ctx, msg, ev)
	defer span.End()

	err = broker.Safe(func() error {
		m, err := ev.CommunicationMutation()
		if err != nil {
			return apperrors.ErrMalformedPayload.WithCause(err)
		}
		return c.apply(msgCtx, msg.ID, m)
	})

	switch {
	case err == nil:
	case apperrors.IsPermanent(err):
		c.logger.WarnwCtx(msgCtx, "Dropping communication message that cannot be applied",
			"operation", ev.Operation,
			"error", err,
		)
		metrics.IncConsumerOutcome(consumerLabel, "poison")
		c.ack(msgCtx, msg.ID)
	default:
		span.RecordError(err)
		c.logger.ErrorwCtx(msgCtx, "Failed to apply communication message, leaving pending",
			"operation", ev.Operation,
			"error", err,
		)
		metrics.IncConsumerOutcome(consumerLabel, "failed")
	}
}

func (c *Consumer) apply(ctx context.Context, msgID string, m models.CommunicationMutation) error {
	switch m := m.(type) {
	case models.CreateLogEntry:
		entry := m.Entry
		now := c.now()
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		entry.UpdatedAt = now
		if err := c.repo.Insert(ctx, &entry); err != nil {
			return fmt.Errorf("create communication log %s: %w", entry.ID, err)
		}
		metrics.IncConsumerOutcome(consumerLabel, "applied")
		c.ack(ctx, msgID)
	case models.UpdateDeliveryStatus:
		c.batch = append(c.batch, c.statusUpdate(m))
		metrics.SetPendingUpdates(len(c.batch))
		metrics.IncConsumerOutcome(consumerLabel, "buffered")
		if c.ackAfterFlush {
			c.batchAcks = append(c.batchAcks, msgID)
		} else {
			c.ack(ctx, msgID)
		}
	default:
		return apperrors.ErrMalformedPayload.WithDetail("message", fmt.Sprintf("unexpected communication mutation %T", m))
	}
	return nil
}

func (c *Consumer) statusUpdate(m models.UpdateDeliveryStatus) models.StatusUpdate {
	now := c.now()
	u := models.StatusUpdate{
		ID:        m.ID,
		Status:    m.Status,
		UpdatedAt: now,
	}
	switch m.Status {
	case models.CommunicationStatusSent:
		u.DeliveredAt = &now
	case models.CommunicationStatusFailed:
		reason := m.ErrorReason
		u.ErrorReason = &reason
	}
	return u
}

// Flush writes the buffered updates with one bulk write. On failure the batch
// is kept and retried at the next trigger.
func (c *Consumer) Flush(ctx context.Context, trigger string) error {
	if len(c.batch) == 0 {
		return nil
	}

	c.lastAttempt = c.now()
	updates := firstPerID(c.batch)

	modified, err := c.repo.BulkUpdateStatus(ctx, updates)
	if err != nil {
		c.failing = true
		metrics.IncBatchFlush(trigger, "error")
		c.logger.ErrorwCtx(ctx, "Failed to flush status updates, keeping batch",
			"trigger", trigger,
			"batch_size", len(c.batch),
			"error", err,
		)
		return err
	}

	c.failing = false
	metrics.IncBatchFlush(trigger, "success")
	metrics.ObserveBatchSize(len(updates))
	c.logger.InfowCtx(ctx, "Flushed status updates",
		"trigger", trigger,
		"batch_size", len(updates),
		"modified", modified,
	)

	acks := c.batchAcks
	c.batch = nil
	c.batchAcks = nil
	metrics.SetPendingUpdates(0)

	if len(acks) > 0 {
		c.ack(ctx, acks...)
	}
	return nil
}

// firstPerID drops later updates for an id already in the batch; the store
// only applies the first terminal status anyway.
func firstPerID(batch []models.StatusUpdate) []models.StatusUpdate {
	seen := make(map[string]struct{}, len(batch))
	out := make([]models.StatusUpdate, 0, len(batch))
	for _, u := range batch {
		if _, ok := seen[u.ID]; ok {
			continue
		}
		seen[u.ID] = struct{}{}
		out = append(out, u)
	}
	return out
}

func (c *Consumer) ack(ctx context.Context, ids ...string) {
	if err := c.reader.Ack(ctx, ids...); err != nil {
		c.logger.WarnwCtx(ctx, "Failed to acknowledge communication messages",
			"error", err,
			"count", len(ids),
		)
	}
}
