package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type Operation string

const (
	OperationCreate       Operation = "create"
	OperationUpdate       Operation = "update"
	OperationDelete       Operation = "delete"
	OperationStatusUpdate Operation = "status_update"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete, OperationStatusUpdate:
		return true
	}
	return false
}

// StreamEvent is the envelope stored under the payload field of every stream
// entry. Data is decoded lazily by the per-stream mutation accessors.
type StreamEvent struct {
	Operation Operation         `json:"operation"`
	Timestamp int64             `json:"timestamp"`
	Data      json.RawMessage   `json:"data"`
	Trace     map[string]string `json:"trace,omitempty"`
}

func NewStreamEvent(op Operation, data interface{}, now time.Time) (StreamEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return StreamEvent{}, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return StreamEvent{
		Operation: op,
		Timestamp: now.UnixMilli(),
		Data:      raw,
	}, nil
}

func DecodeStreamEvent(payload []byte) (StreamEvent, error) {
	var ev StreamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return StreamEvent{}, &ValidationError{Field: "payload", Message: err.Error()}
	}
	if !ev.Operation.Valid() {
		return StreamEvent{}, &ValidationError{
			Field:   "operation",
			Message: fmt.Sprintf("unknown operation %q", ev.Operation),
		}
	}
	if len(ev.Data) == 0 || string(ev.Data) == "null" {
		return StreamEvent{}, &ValidationError{Field: "data", Message: "event data is required"}
	}
	return ev, nil
}

func (e StreamEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func (e StreamEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

type idOnly struct {
	ID string `json:"_id"`
}

func (e StreamEvent) decodeID() (string, error) {
	var ref idOnly
	if err := json.Unmarshal(e.Data, &ref); err != nil {
		return "", &ValidationError{Field: "data", Message: err.Error()}
	}
	if ref.ID == "" {
		return "", &ValidationError{Field: "data._id", Message: "id is required"}
	}
	return ref.ID, nil
}

func (e StreamEvent) decodeData(dst interface{}) error {
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return &ValidationError{Field: "data", Message: err.Error()}
	}
	return nil
}

func unsupported(stream string, op Operation) error {
	return &ValidationError{
		Field:   "operation",
		Message: fmt.Sprintf("operation %q is not supported on %s events", op, stream),
	}
}

// CustomerMutation is one of CreateCustomer, UpdateCustomer or DeleteCustomer.
type CustomerMutation interface {
	isCustomerMutation()
}

type CreateCustomer struct {
	Customer Customer
}

type UpdateCustomer struct {
	ID    string
	Patch CustomerPatch
}

type DeleteCustomer struct {
	ID string
}

func (CreateCustomer) isCustomerMutation() {}
func (UpdateCustomer) isCustomerMutation() {}
func (DeleteCustomer) isCustomerMutation() {}

type CustomerPatch struct {
	Name             *string    `json:"name,omitempty"`
	Email            *string    `json:"email,omitempty"`
	Phone            *string    `json:"phone,omitempty"`
	TotalSpend       *float64   `json:"totalSpend,omitempty"`
	LastPurchaseDate *time.Time `json:"lastPurchaseDate,omitempty"`
	Visits           *int       `json:"visits,omitempty"`
	Tags             *[]string  `json:"tags,omitempty"`
}

// Fields returns the set fields keyed by their stored names.
func (p CustomerPatch) Fields() map[string]interface{} {
	fields := make(map[string]interface{})
	if p.Name != nil {
		fields["name"] = *p.Name
	}
	if p.Email != nil {
		fields["email"] = *p.Email
	}
	if p.Phone != nil {
		fields["phone"] = *p.Phone
	}
	if p.TotalSpend != nil {
		fields["totalSpend"] = *p.TotalSpend
	}
	if p.LastPurchaseDate != nil {
		fields["lastPurchaseDate"] = *p.LastPurchaseDate
	}
	if p.Visits != nil {
		fields["visits"] = *p.Visits
	}
	if p.Tags != nil {
		fields["tags"] = *p.Tags
	}
	return fields
}

func (e StreamEvent) CustomerMutation() (CustomerMutation, error) {
	switch e.Operation {
	case OperationCreate:
		var c Customer
		if err := e.decodeData(&c); err != nil {
			return nil, err
		}
		if err := ValidateCustomer(&c); err != nil {
			return nil, err
		}
		return CreateCustomer{Customer: c}, nil
	case OperationUpdate:
		id, err := e.decodeID()
		if err != nil {
			return nil, err
		}
		var patch CustomerPatch
		if err := e.decodeData(&patch); err != nil {
			return nil, err
		}
		return UpdateCustomer{ID: id, Patch: patch}, nil
	case OperationDelete:
		id, err := e.decodeID()
		if err != nil {
			return nil, err
		}
		return DeleteCustomer{ID: id}, nil
	default:
		return nil, unsupported("customer", e.Operation)
	}
}

// OrderMutation is one of CreateOrder, UpdateOrder or DeleteOrder.
type OrderMutation interface {
	isOrderMutation()
}

type CreateOrder struct {
	Order Order
}

type UpdateOrder struct {
	ID    string
	Patch OrderPatch
}

type DeleteOrder struct {
	ID string
}

func (CreateOrder) isOrderMutation() {}
func (UpdateOrder) isOrderMutation() {}
func (DeleteOrder) isOrderMutation() {}

type OrderPatch struct {
	Status    *string      `json:"status,omitempty"`
	Amount    *float64     `json:"amount,omitempty"`
	OrderDate *time.Time   `json:"orderDate,omitempty"`
	Items     *[]OrderItem `json:"items,omitempty"`
}

func (p OrderPatch) Fields() map[string]interface{} {
	fields := make(map[string]interface{})
	if p.Status != nil {
		fields["status"] = *p.Status
	}
	if p.Amount != nil {
		fields["amount"] = *p.Amount
	}
	if p.OrderDate != nil {
		fields["orderDate"] = *p.OrderDate
	}
	if p.Items != nil {
		fields["items"] = *p.Items
	}
	return fields
}

func (e StreamEvent) OrderMutation() (OrderMutation, error) {
	switch e.Operation {
	case OperationCreate:
		var o Order
		if err := e.decodeData(&o); err != nil {
			return nil, err
		}
		if err := ValidateOrder(&o); err != nil {
			return nil, err
		}
		return CreateOrder{Order: o}, nil
	case OperationUpdate:
		id, err := e.decodeID()
		if err != nil {
			return nil, err
		}
		var patch OrderPatch
		if err := e.decodeData(&patch); err != nil {
			return nil, err
		}
		return UpdateOrder{ID: id, Patch: patch}, nil
	case OperationDelete:
		id, err := e.decodeID()
		if err != nil {
			return nil, err
		}
		return DeleteOrder{ID: id}, nil
	default:
		return nil, unsupported("order", e.Operation)
	}
}

// CommunicationMutation is one of CreateLogEntry or UpdateDeliveryStatus.
type CommunicationMutation interface {
	isCommunicationMutation()
}

type CreateLogEntry struct {
	Entry CommunicationLogEntry
}

type UpdateDeliveryStatus struct {
	ID          string
	Status      CommunicationStatus
	ErrorReason string
}

func (CreateLogEntry) isCommunicationMutation()       {}
func (UpdateDeliveryStatus) isCommunicationMutation() {}

// DeliveryStatusData is the data of a status_update event.
type DeliveryStatusData struct {
	ID          string              `json:"_id"`
	Status      CommunicationStatus `json:"status"`
	ErrorReason string              `json:"errorReason,omitempty"`
}

func (e StreamEvent) CommunicationMutation() (CommunicationMutation, error) {
	switch e.Operation {
	case OperationCreate:
		var entry CommunicationLogEntry
		if err := e.decodeData(&entry); err != nil {
			return nil, err
		}
		if err := ValidateCommunicationLogEntry(&entry); err != nil {
			return nil, err
		}
		return CreateLogEntry{Entry: entry}, nil
	case OperationStatusUpdate:
		var data DeliveryStatusData
		if err := e.decodeData(&data); err != nil {
			return nil, err
		}
		if data.ID == "" {
			return nil, &ValidationError{Field: "data._id", Message: "id is required"}
		}
		if !data.Status.Terminal() {
			return nil, &ValidationError{
				Field:   "data.status",
				Message: fmt.Sprintf("status must be SENT or FAILED, got %q", data.Status),
			}
		}
		return UpdateDeliveryStatus{ID: data.ID, Status: data.Status, ErrorReason: data.ErrorReason}, nil
	default:
		return nil, unsupported("communication", e.Operation)
	}
}
