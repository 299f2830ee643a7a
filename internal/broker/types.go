package broker

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("broker: transport closed")

// Message is one stream entry as delivered to a consumer group member.
type Message struct {
	ID      string
	Stream  string
	Payload []byte
	// DeliveryCount is 1 for a first delivery read with ">". It is 0 when the
	// transport does not report it (backlog reads and claims on Redis).
	DeliveryCount int64
}

// PendingEntry is a delivered but unacknowledged message of one consumer.
type PendingEntry struct {
	ID            string
	Consumer      string
	Idle          time.Duration
	DeliveryCount int64
}

// Transport is an append-only log with consumer-group semantics.
type Transport interface {
	Publish(ctx context.Context, stream string, payload []byte) (string, error)
	// EnsureGroup creates the stream and group if missing. It is idempotent.
	EnsureGroup(ctx context.Context, stream, group string) error
	// ReadGroup blocks up to block for messages never delivered to the group.
	// A timeout returns an empty slice and no error.
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error)
	// ReadBacklog returns messages already delivered to consumer and not yet
	// acknowledged, oldest first, starting after the given id ("0" for all).
	ReadBacklog(ctx context.Context, stream, group, consumer, after string, count int64) ([]Message, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	PendingRange(ctx context.Context, stream, group, consumer string, count int64) ([]PendingEntry, error)
	// Claim transfers ownership of entries idle for at least minIdle to
	// consumer and increments their delivery count. Entries that are no
	// longer pending or not idle long enough are skipped.
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]Message, error)
	Close() error
}
