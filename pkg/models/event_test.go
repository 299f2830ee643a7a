package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStreamEvent(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantField string
	}{
		{
			name:      "not json",
			payload:   `{"operation":`,
			wantField: "payload",
		},
		{
			name:      "unknown operation",
			payload:   `{"operation":"upsert","timestamp":1,"data":{"_id":"C1"}}`,
			wantField: "operation",
		},
		{
			name:      "missing data",
			payload:   `{"operation":"create","timestamp":1}`,
			wantField: "data",
		},
		{
			name:      "null data",
			payload:   `{"operation":"create","timestamp":1,"data":null}`,
			wantField: "data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeStreamEvent([]byte(tt.payload))
			require.Error(t, err)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantField, ve.Field)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestStreamEventEncodeRoundTrip(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	ev, err := NewStreamEvent(OperationCreate, Customer{ID: "C1", Email: "a@b.c"}, now)
	require.NoError(t, err)
	ev.Trace = map[string]string{"traceparent": "00-abc-def-01"}

	body, err := ev.Encode()
	require.NoError(t, err)

	decoded, err := DecodeStreamEvent(body)
	require.NoError(t, err)
	assert.Equal(t, OperationCreate, decoded.Operation)
	assert.Equal(t, now, decoded.Time())
	assert.Equal(t, "00-abc-def-01", decoded.Trace["traceparent"])
}

func TestCustomerMutation(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		ev := mustEvent(t, OperationCreate, map[string]interface{}{
			"_id": "C1", "name": "Ada", "email": "ada@example.com", "totalSpend": 0,
		})
		m, err := ev.CustomerMutation()
		require.NoError(t, err)

		create, ok := m.(CreateCustomer)
		require.True(t, ok)
		assert.Equal(t, "C1", create.Customer.ID)
		assert.Equal(t, "ada@example.com", create.Customer.Email)
	})

	t.Run("update keeps only present fields", func(t *testing.T) {
		ev := mustEvent(t, OperationUpdate, map[string]interface{}{
			"_id": "C1", "name": "Ada L.", "visits": 3,
		})
		m, err := ev.CustomerMutation()
		require.NoError(t, err)

		update, ok := m.(UpdateCustomer)
		require.True(t, ok)
		assert.Equal(t, "C1", update.ID)
		assert.Equal(t, map[string]interface{}{"name": "Ada L.", "visits": 3}, update.Patch.Fields())
	})

	t.Run("delete", func(t *testing.T) {
		ev := mustEvent(t, OperationDelete, map[string]interface{}{"_id": "C1"})
		m, err := ev.CustomerMutation()
		require.NoError(t, err)
		assert.Equal(t, DeleteCustomer{ID: "C1"}, m)
	})

	t.Run("update without id", func(t *testing.T) {
		ev := mustEvent(t, OperationUpdate, map[string]interface{}{"name": "x"})
		_, err := ev.CustomerMutation()
		assert.True(t, IsValidationError(err))
	})

	t.Run("status update is not a customer operation", func(t *testing.T) {
		ev := mustEvent(t, OperationStatusUpdate, map[string]interface{}{"_id": "C1"})
		_, err := ev.CustomerMutation()
		assert.True(t, IsValidationError(err))
	})

	t.Run("wrongly typed field", func(t *testing.T) {
		ev := mustEvent(t, OperationUpdate, map[string]interface{}{"_id": "C1", "visits": "many"})
		_, err := ev.CustomerMutation()
		assert.True(t, IsValidationError(err))
	})
}

func TestOrderMutation(t *testing.T) {
	orderDate := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	ev := mustEvent(t, OperationCreate, Order{
		ID: "O1", CustomerID: "C1", Amount: 500, OrderDate: orderDate,
		Items: []OrderItem{{ProductID: "P1", Name: "Lamp", Quantity: 1, Price: 500}},
	})
	m, err := ev.OrderMutation()
	require.NoError(t, err)

	create, ok := m.(CreateOrder)
	require.True(t, ok)
	assert.Equal(t, 500.0, create.Order.Amount)
	assert.True(t, orderDate.Equal(create.Order.OrderDate))

	ev = mustEvent(t, OperationCreate, map[string]interface{}{"_id": "O2", "amount": 10})
	_, err = ev.OrderMutation()
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "customerId", ve.Field)
}

func TestCommunicationMutation(t *testing.T) {
	ev := mustEvent(t, OperationStatusUpdate, DeliveryStatusData{ID: "L1", Status: CommunicationStatusFailed, ErrorReason: "Network error"})
	m, err := ev.CommunicationMutation()
	require.NoError(t, err)
	assert.Equal(t, UpdateDeliveryStatus{ID: "L1", Status: CommunicationStatusFailed, ErrorReason: "Network error"}, m)

	ev = mustEvent(t, OperationStatusUpdate, DeliveryStatusData{ID: "L1", Status: CommunicationStatusPending})
	_, err = ev.CommunicationMutation()
	assert.True(t, IsValidationError(err))

	ev = mustEvent(t, OperationCreate, map[string]interface{}{"_id": "L2", "campaignId": "K1", "customerId": "C1", "message": "hi"})
	m, err = ev.CommunicationMutation()
	require.NoError(t, err)
	create, ok := m.(CreateLogEntry)
	require.True(t, ok)
	assert.Equal(t, CommunicationStatusPending, create.Entry.Status)
}

func mustEvent(t *testing.T, op Operation, data interface{}) StreamEvent {
	t.Helper()
	ev, err := NewStreamEvent(op, data, time.Now())
	require.NoError(t, err)
	return ev
}
