// Package brokertest provides an in-process broker.Transport with Redis
// consumer-group semantics for tests.
package brokertest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"crmflow/internal/broker"
)

type entry struct {
	seq     uint64
	payload []byte
}

type pendingEntry struct {
	consumer      string
	deliveredAt   time.Time
	deliveryCount int64
}

type group struct {
	lastDelivered uint64
	pending       map[uint64]*pendingEntry
}

type stream struct {
	entries []entry
	groups  map[string]*group
}

type Option func(*MemoryTransport)

// WithClock sets the time source used for idle times.
func WithClock(now func() time.Time) Option {
	return func(t *MemoryTransport) { t.now = now }
}

type MemoryTransport struct {
	mu      sync.Mutex
	now     func() time.Time
	seq     uint64
	streams map[string]*stream
	changed chan struct{}
	closed  bool

	readErr      error
	readErrCount int
}

var _ broker.Transport = (*MemoryTransport)(nil)

func NewMemoryTransport(opts ...Option) *MemoryTransport {
	t := &MemoryTransport{
		now:     time.Now,
		streams: make(map[string]*stream),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FailReads makes the next n ReadGroup calls return err.
func (t *MemoryTransport) FailReads(err error, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readErr = err
	t.readErrCount = n
}

func (t *MemoryTransport) Publish(ctx context.Context, name string, payload []byte) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", broker.ErrClosed
	}

	t.seq++
	s := t.streamLocked(name)
	s.entries = append(s.entries, entry{seq: t.seq, payload: append([]byte(nil), payload...)})

	close(t.changed)
	t.changed = make(chan struct{})
	return formatID(t.seq), nil
}

func (t *MemoryTransport) EnsureGroup(ctx context.Context, name, groupName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return broker.ErrClosed
	}

	s := t.streamLocked(name)
	if _, ok := s.groups[groupName]; !ok {
		s.groups[groupName] = &group{pending: make(map[uint64]*pendingEntry)}
	}
	return nil
}

func (t *MemoryTransport) ReadGroup(ctx context.Context, name, groupName, consumer string, count int64, block time.Duration) ([]broker.Message, error) {
	var deadline <-chan time.Time
	if block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return nil, broker.ErrClosed
		}
		if t.readErrCount > 0 {
			t.readErrCount--
			err := t.readErr
			t.mu.Unlock()
			return nil, err
		}
		g, err := t.groupLocked(name, groupName)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}

		msgs := t.deliverLocked(name, g, consumer, count)
		changed := t.changed
		t.mu.Unlock()

		if len(msgs) > 0 || deadline == nil {
			return msgs, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, nil
		case <-changed:
		}
	}
}

func (t *MemoryTransport) deliverLocked(name string, g *group, consumer string, count int64) []broker.Message {
	s := t.streams[name]
	now := t.now()

	var msgs []broker.Message
	for _, e := range s.entries {
		if count > 0 && int64(len(msgs)) >= count {
			break
		}
		if e.seq <= g.lastDelivered {
			continue
		}
		g.lastDelivered = e.seq
		g.pending[e.seq] = &pendingEntry{consumer: consumer, deliveredAt: now, deliveryCount: 1}
		msgs = append(msgs, broker.Message{
			ID:            formatID(e.seq),
			Stream:        name,
			Payload:       e.payload,
			DeliveryCount: 1,
		})
	}
	return msgs
}

func (t *MemoryTransport) ReadBacklog(ctx context.Context, name, groupName, consumer, after string, count int64) ([]broker.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, broker.ErrClosed
	}
	g, err := t.groupLocked(name, groupName)
	if err != nil {
		return nil, err
	}
	afterSeq, err := parseID(after)
	if err != nil {
		return nil, err
	}

	now := t.now()
	var msgs []broker.Message
	for _, seq := range g.sortedPending() {
		p := g.pending[seq]
		if p.consumer != consumer || seq <= afterSeq {
			continue
		}
		if count > 0 && int64(len(msgs)) >= count {
			break
		}
		p.deliveredAt = now
		p.deliveryCount++
		msgs = append(msgs, broker.Message{
			ID:      formatID(seq),
			Stream:  name,
			Payload: t.payloadLocked(name, seq),
		})
	}
	return msgs, nil
}

func (t *MemoryTransport) Ack(ctx context.Context, name, groupName string, ids ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return broker.ErrClosed
	}
	g, err := t.groupLocked(name, groupName)
	if err != nil {
		return err
	}
	for _, id := range ids {
		seq, err := parseID(id)
		if err != nil {
			return err
		}
		delete(g.pending, seq)
	}
	return nil
}

func (t *MemoryTransport) PendingRange(ctx context.Context, name, groupName, consumer string, count int64) ([]broker.PendingEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, broker.ErrClosed
	}
	g, err := t.groupLocked(name, groupName)
	if err != nil {
		return nil, err
	}

	now := t.now()
	var entries []broker.PendingEntry
	for _, seq := range g.sortedPending() {
		p := g.pending[seq]
		if consumer != "" && p.consumer != consumer {
			continue
		}
		if count > 0 && int64(len(entries)) >= count {
			break
		}
		entries = append(entries, broker.PendingEntry{
			ID:            formatID(seq),
			Consumer:      p.consumer,
			Idle:          now.Sub(p.deliveredAt),
			DeliveryCount: p.deliveryCount,
		})
	}
	return entries, nil
}

func (t *MemoryTransport) Claim(ctx context.Context, name, groupName, consumer string, minIdle time.Duration, ids ...string) ([]broker.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, broker.ErrClosed
	}
	g, err := t.groupLocked(name, groupName)
	if err != nil {
		return nil, err
	}

	now := t.now()
	var msgs []broker.Message
	for _, id := range ids {
		seq, err := parseID(id)
		if err != nil {
			return nil, err
		}
		p, ok := g.pending[seq]
		if !ok || now.Sub(p.deliveredAt) < minIdle {
			continue
		}
		p.consumer = consumer
		p.deliveredAt = now
		p.deliveryCount++
		msgs = append(msgs, broker.Message{
			ID:            id,
			Stream:        name,
			Payload:       t.payloadLocked(name, seq),
			DeliveryCount: p.deliveryCount,
		})
	}
	return msgs, nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.changed)
	}
	return nil
}

// PendingCount returns the number of unacknowledged entries of a group.
func (t *MemoryTransport) PendingCount(name, groupName string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, err := t.groupLocked(name, groupName)
	if err != nil {
		return 0
	}
	return len(g.pending)
}

// Len returns the number of entries appended to a stream.
func (t *MemoryTransport) Len(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.streams[name]; ok {
		return len(s.entries)
	}
	return 0
}

// Payloads returns every payload appended to a stream in order.
func (t *MemoryTransport) Payloads(name string) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[name]
	if !ok {
		return nil
	}
	out := make([][]byte, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.payload)
	}
	return out
}

func (t *MemoryTransport) streamLocked(name string) *stream {
	s, ok := t.streams[name]
	if !ok {
		s = &stream{groups: make(map[string]*group)}
		t.streams[name] = s
	}
	return s
}

func (t *MemoryTransport) groupLocked(name, groupName string) (*group, error) {
	s, ok := t.streams[name]
	if !ok {
		return nil, fmt.Errorf("NOGROUP no such key %q or consumer group %q", name, groupName)
	}
	g, ok := s.groups[groupName]
	if !ok {
		return nil, fmt.Errorf("NOGROUP no such key %q or consumer group %q", name, groupName)
	}
	return g, nil
}

func (t *MemoryTransport) payloadLocked(name string, seq uint64) []byte {
	s := t.streams[name]
	i := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].seq >= seq })
	if i < len(s.entries) && s.entries[i].seq == seq {
		return s.entries[i].payload
	}
	return nil
}

func (g *group) sortedPending() []uint64 {
	seqs := make([]uint64, 0, len(g.pending))
	for seq := range g.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

func formatID(seq uint64) string {
	return fmt.Sprintf("%d-0", seq)
}

func parseID(id string) (uint64, error) {
	head, _, _ := strings.Cut(id, "-")
	seq, err := strconv.ParseUint(head, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stream id %q", id)
	}
	return seq, nil
}
