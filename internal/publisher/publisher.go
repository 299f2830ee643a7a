package publisher

import (
	"context"
	"fmt"
	"time"

	"crmflow/internal/broker"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/pkg/metrics"
	"crmflow/pkg/models"
	"crmflow/pkg/tracing"
)

// Publisher serializes entity data into a StreamEvent and appends it. It has
// no business logic; the timestamp is informational only.
type Publisher struct {
	transport broker.Transport
	logger    logger.Logger
	now       func() time.Time
}

func New(transport broker.Transport, log logger.Logger) *Publisher {
	return &Publisher{transport: transport, logger: log, now: time.Now}
}

func (p *Publisher) Publish(ctx context.Context, stream string, op models.Operation, data interface{}) (string, error) {
	ev, err := models.NewStreamEvent(op, data, p.now())
	if err != nil {
		return "", err
	}
	ev.Trace = tracing.InjectTraceContext(ctx)

	body, err := ev.Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode event: %w", err)
	}

	id, err := p.transport.Publish(ctx, stream, body)
	if err != nil {
		return "", err
	}

	metrics.IncPublished(stream, string(op))
	p.logger.DebugwCtx(ctx, "Published event",
		"stream", stream,
		"operation", op,
		"stream_message_id", id,
	)
	return id, nil
}

func (p *Publisher) PublishCustomer(ctx context.Context, op models.Operation, data interface{}) (string, error) {
	return p.Publish(ctx, constants.CustomerStream, op, data)
}

func (p *Publisher) PublishOrder(ctx context.Context, op models.Operation, data interface{}) (string, error) {
	return p.Publish(ctx, constants.OrderStream, op, data)
}

func (p *Publisher) PublishCommunication(ctx context.Context, op models.Operation, data interface{}) (string, error) {
	return p.Publish(ctx, constants.CommunicationStream, op, data)
}

// PublishStatus appends a status_update for one communication log entry.
func (p *Publisher) PublishStatus(ctx context.Context, entryID string, status models.CommunicationStatus, reason string) (string, error) {
	return p.PublishCommunication(ctx, models.OperationStatusUpdate, models.DeliveryStatusData{
		ID:          entryID,
		Status:      status,
		ErrorReason: reason,
	})
}
