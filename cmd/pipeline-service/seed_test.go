package main

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/broker"
	"crmflow/internal/broker/brokertest"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/internal/publisher"
	"crmflow/pkg/models"
)

func TestGenerateSeed(t *testing.T) {
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	customers, orders := generateSeed(rand.New(rand.NewSource(7)), 20, 50, now)

	require.Len(t, customers, 20)
	require.Len(t, orders, 50)

	ids := make(map[string]bool)
	for _, c := range customers {
		require.NoError(t, models.ValidateCustomer(&c))
		ids[c.ID] = true
	}
	assert.Len(t, ids, 20)

	for _, o := range orders {
		require.NoError(t, models.ValidateOrder(&o))
		assert.True(t, ids[o.CustomerID], "order %s references unknown customer", o.ID)
		assert.False(t, o.OrderDate.After(now))

		sum := 0.0
		for _, item := range o.Items {
			sum += item.Price * float64(item.Quantity)
		}
		assert.InDelta(t, sum, o.Amount, 1e-9)
	}
}

func TestGenerateSeedWithoutCustomers(t *testing.T) {
	customers, orders := generateSeed(rand.New(rand.NewSource(1)), 0, 10, time.Now())
	assert.Empty(t, customers)
	assert.Empty(t, orders)
}

func firstSeq(t *testing.T, tr *brokertest.MemoryTransport, stream, group string) uint64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, tr.EnsureGroup(ctx, stream, group))
	msgs, err := tr.ReadGroup(ctx, stream, group, "test", 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	seq, err := strconv.ParseUint(strings.TrimSuffix(msgs[0].ID, "-0"), 10, 64)
	require.NoError(t, err)
	return seq
}

func TestPublishSeed(t *testing.T) {
	customers, orders := generateSeed(rand.New(rand.NewSource(3)), 5, 8, time.Now())

	for _, ordersFirst := range []bool{false, true} {
		tr := brokertest.NewMemoryTransport()
		pub := publisher.New(tr, logger.NopLogger())

		require.NoError(t, publishSeed(context.Background(), pub, customers, orders, ordersFirst, logger.NopLogger()))

		assert.Equal(t, 5, tr.Len(constants.CustomerStream))
		assert.Equal(t, 8, tr.Len(constants.OrderStream))

		ev, err := broker.Decode(broker.Message{ID: "1-0", Payload: tr.Payloads(constants.OrderStream)[0]})
		require.NoError(t, err)
		m, err := ev.OrderMutation()
		require.NoError(t, err)
		assert.Equal(t, orders[0].ID, m.(models.CreateOrder).Order.ID)

		customerSeq := firstSeq(t, tr, constants.CustomerStream, constants.CustomerGroup)
		orderSeq := firstSeq(t, tr, constants.OrderStream, constants.OrderGroup)
		assert.Equal(t, ordersFirst, orderSeq < customerSeq)
	}
}
