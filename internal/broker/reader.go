package broker

import (
	"context"
	"time"

	"crmflow/internal/config"
	"crmflow/internal/constants"
)

type ReaderOptions struct {
	Count        int64
	Block        time.Duration
	ErrorBackoff time.Duration
	// SkipBacklog starts reading at new messages. Used by consumers that
	// recover their pending entries by claiming them.
	SkipBacklog bool
	// ClaimIdle makes the reader take over entries that another consumer
	// has left unacknowledged for at least this long. Zero disables it.
	ClaimIdle time.Duration
	// ClaimScan bounds how many pending entries one takeover pass inspects.
	ClaimScan int64
	Now       func() time.Time
}

func ReaderOptionsFrom(cfg config.RedisStreamConfig) ReaderOptions {
	return ReaderOptions{
		Count:        cfg.Count,
		Block:        cfg.Block,
		ErrorBackoff: cfg.ErrorBackoff,
		ClaimIdle:    cfg.ClaimIdle,
	}.withDefaults()
}

func (o ReaderOptions) withDefaults() ReaderOptions {
	if o.Count <= 0 {
		o.Count = constants.DefaultReadCount
	}
	if o.Block <= 0 {
		o.Block = constants.DefaultReadBlock
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = constants.DefaultErrorBackoff
	}
	if o.ClaimScan <= 0 {
		o.ClaimScan = constants.DefaultClaimScan
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Reader is one consumer identity's view of one stream. The first calls to
// Next replay the consumer's own unacknowledged backlog, so messages left
// pending by a previous run are retried after a restart. With ClaimIdle set,
// Next also takes over entries other consumers have held for too long, which
// covers instances that restarted under a different name or never came back.
type Reader struct {
	transport Transport
	stream    string
	group     string
	consumer  string
	opts      ReaderOptions

	backlogDone bool
	cursor      string
	lastClaim   time.Time
}

func NewReader(transport Transport, stream, group, consumer string, opts ReaderOptions) *Reader {
	return &Reader{
		transport:   transport,
		stream:      stream,
		group:       group,
		consumer:    consumer,
		opts:        opts.withDefaults(),
		cursor:      "0",
		backlogDone: opts.SkipBacklog,
	}
}

func (r *Reader) Stream() string   { return r.stream }
func (r *Reader) Group() string    { return r.group }
func (r *Reader) Consumer() string { return r.consumer }

func (r *Reader) Next(ctx context.Context) ([]Message, error) {
	if !r.backlogDone {
		msgs, err := r.transport.ReadBacklog(ctx, r.stream, r.group, r.consumer, r.cursor, r.opts.Count)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			r.cursor = msgs[len(msgs)-1].ID
			return msgs, nil
		}
		r.backlogDone = true
	}

	if r.claimDue() {
		msgs, err := r.claimAbandoned(ctx)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
	}

	return r.transport.ReadGroup(ctx, r.stream, r.group, r.consumer, r.opts.Count, r.opts.Block)
}

func (r *Reader) claimDue() bool {
	return r.opts.ClaimIdle > 0 && r.opts.Now().Sub(r.lastClaim) >= r.opts.ClaimIdle
}

// claimAbandoned moves entries idle past ClaimIdle from other consumers to
// this one. Its own entries are left alone; they are replayed by the backlog
// read on the next start.
func (r *Reader) claimAbandoned(ctx context.Context) ([]Message, error) {
	r.lastClaim = r.opts.Now()

	entries, err := r.transport.PendingRange(ctx, r.stream, r.group, "", r.opts.ClaimScan)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, pe := range entries {
		if pe.Consumer != r.consumer && pe.Idle >= r.opts.ClaimIdle {
			ids = append(ids, pe.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.transport.Claim(ctx, r.stream, r.group, r.consumer, r.opts.ClaimIdle, ids...)
}

// EnsureGroup creates the reader's consumer group if it does not exist.
func (r *Reader) EnsureGroup(ctx context.Context) error {
	return r.transport.EnsureGroup(ctx, r.stream, r.group)
}

func (r *Reader) Ack(ctx context.Context, ids ...string) error {
	return r.transport.Ack(ctx, r.stream, r.group, ids...)
}

// Backoff waits the configured error delay. It returns early with the
// context error on cancellation.
func (r *Reader) Backoff(ctx context.Context) error {
	return Sleep(ctx, r.opts.ErrorBackoff)
}

func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
