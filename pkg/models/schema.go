package models

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func ValidateCustomer(c *Customer) error {
	if c == nil {
		return &ValidationError{Field: "customer", Message: "customer cannot be nil"}
	}

	if c.ID == "" {
		return &ValidationError{Field: "_id", Message: "customer id is required"}
	}

	if c.Email == "" {
		return &ValidationError{Field: "email", Message: "customer email is required"}
	}

	if c.TotalSpend < 0 {
		return &ValidationError{Field: "totalSpend", Message: "total spend must be non-negative"}
	}

	return nil
}

func ValidateOrder(o *Order) error {
	if o == nil {
		return &ValidationError{Field: "order", Message: "order cannot be nil"}
	}

	if o.ID == "" {
		return &ValidationError{Field: "_id", Message: "order id is required"}
	}

	if o.CustomerID == "" {
		return &ValidationError{Field: "customerId", Message: "customer id is required"}
	}

	if o.Amount < 0 {
		return &ValidationError{Field: "amount", Message: "amount must be non-negative"}
	}

	if o.OrderDate.IsZero() {
		return &ValidationError{Field: "orderDate", Message: "order date is required"}
	}

	return nil
}

func ValidateCommunicationLogEntry(e *CommunicationLogEntry) error {
	if e == nil {
		return &ValidationError{Field: "entry", Message: "entry cannot be nil"}
	}

	if e.ID == "" {
		return &ValidationError{Field: "_id", Message: "entry id is required"}
	}

	if e.CampaignID == "" {
		return &ValidationError{Field: "campaignId", Message: "campaign id is required"}
	}

	if e.CustomerID == "" {
		return &ValidationError{Field: "customerId", Message: "customer id is required"}
	}

	switch e.Status {
	case "":
		e.Status = CommunicationStatusPending
	case CommunicationStatusPending, CommunicationStatusSent, CommunicationStatusFailed:
	default:
		return &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", e.Status)}
	}

	return nil
}
