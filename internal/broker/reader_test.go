package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/broker"
	"crmflow/internal/broker/brokertest"
)

func TestReaderDrainsBacklogBeforeNewMessages(t *testing.T) {
	ctx := context.Background()
	tr := brokertest.NewMemoryTransport()
	require.NoError(t, tr.EnsureGroup(ctx, "s", "g"))

	old1, _ := tr.Publish(ctx, "s", []byte("old-1"))
	old2, _ := tr.Publish(ctx, "s", []byte("old-2"))
	_, err := tr.ReadGroup(ctx, "s", "g", "c", 10, 0)
	require.NoError(t, err)
	fresh, _ := tr.Publish(ctx, "s", []byte("fresh"))

	r := broker.NewReader(tr, "s", "g", "c", broker.ReaderOptions{Count: 1, Block: 10 * time.Millisecond})

	var seen []string
	for i := 0; i < 3; i++ {
		msgs, err := r.Next(ctx)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		seen = append(seen, msgs[0].ID)
	}
	assert.Equal(t, []string{old1, old2, fresh}, seen)

	msgs, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestReaderBackoffHonoursContext(t *testing.T) {
	r := broker.NewReader(brokertest.NewMemoryTransport(), "s", "g", "c", broker.ReaderOptions{ErrorBackoff: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Backoff(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSleep(t *testing.T) {
	start := time.Now()
	require.NoError(t, broker.Sleep(context.Background(), 5*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestReaderTakesOverEntriesOfDepartedConsumer(t *testing.T) {
	ctx := context.Background()
	clock := brokertest.NewManualClock(time.Unix(0, 0))
	tr := brokertest.NewMemoryTransport(brokertest.WithClock(clock.Now))
	require.NoError(t, tr.EnsureGroup(ctx, "s", "g"))

	stuck, _ := tr.Publish(ctx, "s", []byte("stuck"))
	_, err := tr.ReadGroup(ctx, "s", "g", "old", 10, 0)
	require.NoError(t, err)
	own, _ := tr.Publish(ctx, "s", []byte("own"))
	_, err = tr.ReadGroup(ctx, "s", "g", "new", 10, 0)
	require.NoError(t, err)

	r := broker.NewReader(tr, "s", "g", "new", broker.ReaderOptions{
		Count:       10,
		Block:       time.Millisecond,
		SkipBacklog: true,
		ClaimIdle:   time.Minute,
		Now:         clock.Now,
	})

	msgs, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs, "entries held for less than the claim idle stay put")

	clock.Advance(2 * time.Minute)
	msgs, err = r.Next(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, stuck, msgs[0].ID)
	assert.Equal(t, []byte("stuck"), msgs[0].Payload)

	pending, err := tr.PendingRange(ctx, "s", "g", "", 10)
	require.NoError(t, err)
	owners := map[string]string{}
	for _, pe := range pending {
		owners[pe.ID] = pe.Consumer
	}
	assert.Equal(t, map[string]string{stuck: "new", own: "new"}, owners)

	msgs, err = r.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs, "takeover runs at most once per claim idle")
}
