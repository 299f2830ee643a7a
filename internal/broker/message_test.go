package broker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/broker"
	apperrors "crmflow/pkg/errors"
	"crmflow/pkg/logging"
	"crmflow/pkg/models"
)

func TestDecode(t *testing.T) {
	_, err := broker.Decode(broker.Message{ID: "1-0"})
	assert.True(t, apperrors.IsMalformed(err))

	_, err = broker.Decode(broker.Message{ID: "1-0", Payload: []byte("{not json")})
	assert.True(t, apperrors.IsMalformed(err))
	assert.True(t, apperrors.IsPermanent(err))

	ev, err := broker.Decode(broker.Message{ID: "1-0", Payload: []byte(`{"operation":"delete","timestamp":1,"data":{"_id":"C1"}}`)})
	require.NoError(t, err)
	assert.Equal(t, models.OperationDelete, ev.Operation)
}

func TestMessageContext(t *testing.T) {
	msg := broker.Message{ID: "7-0", Stream: "customer-events"}
	ctx, span := broker.MessageContext(context.Background(), msg, models.StreamEvent{})
	defer span.End()

	assert.Equal(t, "7-0", logging.GetMessageID(ctx))
	assert.Equal(t, "customer-events", logging.GetStream(ctx))
}

func TestSafe(t *testing.T) {
	err := broker.Safe(func() error {
		var m map[string]int
		m["x"] = 1
		return nil
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsPermanent(err))

	assert.NoError(t, broker.Safe(func() error { return nil }))
}
