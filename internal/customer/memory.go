package customer

import (
	"context"
	"sort"
	"sync"
	"time"

	"crmflow/internal/constants"
	apperrors "crmflow/pkg/errors"
	"crmflow/pkg/models"
)

// MemoryRepository is a Repository kept in process memory for tests.
type MemoryRepository struct {
	mu      sync.Mutex
	byID    map[string]*models.Customer
	emails  map[string]string
	failErr error
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*models.Customer),
		emails: make(map[string]string),
	}
}

// FailWith makes every call return err until cleared with nil.
func (r *MemoryRepository) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
}

func (r *MemoryRepository) Insert(ctx context.Context, c *models.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}

	if _, ok := r.byID[c.ID]; ok {
		return nil
	}
	if owner, ok := r.emails[c.Email]; ok && owner != c.ID {
		return apperrors.ErrConflict.WithDetail("email", c.Email)
	}

	stored := *c
	r.byID[c.ID] = &stored
	r.emails[c.Email] = c.ID
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, id string, fields map[string]interface{}, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}

	c, ok := r.byID[id]
	if !ok {
		return apperrors.ErrNotFound.WithDetail("customer_id", id)
	}

	if email, ok := fields["email"].(string); ok && email != c.Email {
		if owner, taken := r.emails[email]; taken && owner != id {
			return apperrors.ErrConflict.WithDetail("email", email)
		}
		delete(r.emails, c.Email)
		r.emails[email] = id
	}

	for k, v := range fields {
		switch k {
		case "name":
			c.Name = v.(string)
		case "email":
			c.Email = v.(string)
		case "phone":
			c.Phone = v.(string)
		case "totalSpend":
			c.TotalSpend = v.(float64)
		case "visits":
			c.Visits = v.(int)
		case "tags":
			c.Tags = v.([]string)
		case "lastPurchaseDate":
			t := v.(time.Time)
			c.LastPurchaseDate = &t
		}
	}
	c.UpdatedAt = at
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}

	c, ok := r.byID[id]
	if !ok {
		return apperrors.ErrNotFound.WithDetail("customer_id", id)
	}
	delete(r.emails, c.Email)
	delete(r.byID, id)
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}

	c, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound.WithDetail("customer_id", id)
	}
	out := *c
	return &out, nil
}

func (r *MemoryRepository) RecordPurchase(ctx context.Context, customerID, orderID string, amount float64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return false, r.failErr
	}

	c, ok := r.byID[customerID]
	if !ok {
		return false, nil
	}
	for _, id := range c.RecentOrderIDs {
		if id == orderID {
			return false, nil
		}
	}

	c.TotalSpend += amount
	purchased := at
	c.LastPurchaseDate = &purchased
	c.UpdatedAt = time.Now()
	c.RecentOrderIDs = append(c.RecentOrderIDs, orderID)
	if n := len(c.RecentOrderIDs); n > constants.RecentOrderWindow {
		c.RecentOrderIDs = c.RecentOrderIDs[n-constants.RecentOrderWindow:]
	}
	return true, nil
}

// All returns a snapshot of every stored customer ordered by id.
func (r *MemoryRepository) All() []models.Customer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Customer, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
