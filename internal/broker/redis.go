package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"crmflow/internal/constants"
	"crmflow/pkg/metrics"
)

// RedisTransport implements Transport on Redis streams. The envelope is kept
// under a single field so entries stay readable with redis-cli.
type RedisTransport struct {
	client *redis.Client
	owned  bool
}

func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client}
}

func (t *RedisTransport) Publish(ctx context.Context, stream string, payload []byte) (string, error) {
	id, err := t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{constants.PayloadField: string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", stream, err)
	}
	return id, nil
}

func (t *RedisTransport) EnsureGroup(ctx context.Context, stream, group string) error {
	err := t.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create group %s on %s: %w", group, stream, err)
	}
	return nil
}

func (t *RedisTransport) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	start := time.Now()
	res, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	metrics.ObserveReadDuration(stream, group, time.Since(start))
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read group %s on %s: %w", group, stream, err)
	}

	msgs := toMessages(res, 1)
	metrics.AddRead(stream, group, len(msgs))
	return msgs, nil
}

func (t *RedisTransport) ReadBacklog(ctx context.Context, stream, group, consumer, after string, count int64) ([]Message, error) {
	if after == "" {
		after = "0"
	}
	res, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, after},
		Count:    count,
		Block:    -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backlog of %s on %s: %w", consumer, stream, err)
	}
	return toMessages(res, 0), nil
}

func (t *RedisTransport) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := t.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to ack %d messages on %s: %w", len(ids), stream, err)
	}
	metrics.AddAcked(stream, group, len(ids))
	return nil
}

func (t *RedisTransport) PendingRange(ctx context.Context, stream, group, consumer string, count int64) ([]PendingEntry, error) {
	res, err := t.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   stream,
		Group:    group,
		Start:    "-",
		End:      "+",
		Count:    count,
		Consumer: consumer,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending entries of %s on %s: %w", consumer, stream, err)
	}

	entries := make([]PendingEntry, 0, len(res))
	for _, p := range res {
		entries = append(entries, PendingEntry{
			ID:            p.ID,
			Consumer:      p.Consumer,
			Idle:          p.Idle,
			DeliveryCount: p.RetryCount,
		})
	}
	return entries, nil
}

func (t *RedisTransport) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	res, err := t.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim %d messages on %s: %w", len(ids), stream, err)
	}

	msgs := make([]Message, 0, len(res))
	for _, m := range res {
		msgs = append(msgs, toMessage(stream, m, 0))
		metrics.IncClaimed(stream, group)
	}
	return msgs, nil
}

// Close releases the client only when the transport created it.
func (t *RedisTransport) Close() error {
	if t.owned {
		return t.client.Close()
	}
	return nil
}

func toMessages(res []redis.XStream, deliveryCount int64) []Message {
	var msgs []Message
	for _, s := range res {
		for _, m := range s.Messages {
			msgs = append(msgs, toMessage(s.Stream, m, deliveryCount))
		}
	}
	return msgs
}

func toMessage(stream string, m redis.XMessage, deliveryCount int64) Message {
	msg := Message{ID: m.ID, Stream: stream, DeliveryCount: deliveryCount}
	if v, ok := m.Values[constants.PayloadField].(string); ok {
		msg.Payload = []byte(v)
	}
	return msg
}
