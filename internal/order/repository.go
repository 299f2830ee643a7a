package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"crmflow/internal/constants"
	apperrors "crmflow/pkg/errors"
	"crmflow/pkg/models"
)

type Repository interface {
	// Insert stores a new order. Re-inserting an existing id is a no-op.
	Insert(ctx context.Context, o *models.Order) error
	Update(ctx context.Context, id string, fields map[string]interface{}, at time.Time) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.Order, error)
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(constants.OrdersCollection),
	}
}

func (r *MongoRepository) Insert(ctx context.Context, o *models.Order) error {
	_, err := r.collection.InsertOne(ctx, o)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (r *MongoRepository) Update(ctx context.Context, id string, fields map[string]interface{}, at time.Time) error {
	set := bson.M{"updatedAt": at}
	for k, v := range fields {
		set[k] = v
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.ErrNotFound.WithDetail("order_id", id)
	}
	return nil
}

func (r *MongoRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	if result.DeletedCount == 0 {
		return apperrors.ErrNotFound.WithDetail("order_id", id)
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&o)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.ErrNotFound.WithDetail("order_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &o, nil
}

// MemoryRepository is a Repository kept in process memory for tests.
type MemoryRepository struct {
	mu      sync.Mutex
	byID    map[string]*models.Order
	failErr error
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*models.Order)}
}

// FailWith makes every call return err until cleared with nil.
func (r *MemoryRepository) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
}

func (r *MemoryRepository) Insert(ctx context.Context, o *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	if _, ok := r.byID[o.ID]; !ok {
		stored := *o
		r.byID[o.ID] = &stored
	}
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, id string, fields map[string]interface{}, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	o, ok := r.byID[id]
	if !ok {
		return apperrors.ErrNotFound.WithDetail("order_id", id)
	}
	for k, v := range fields {
		switch k {
		case "status":
			o.Status = v.(string)
		case "amount":
			o.Amount = v.(float64)
		case "orderDate":
			o.OrderDate = v.(time.Time)
		case "items":
			o.Items = v.([]models.OrderItem)
		}
	}
	o.UpdatedAt = at
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	if _, ok := r.byID[id]; !ok {
		return apperrors.ErrNotFound.WithDetail("order_id", id)
	}
	delete(r.byID, id)
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	o, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound.WithDetail("order_id", id)
	}
	out := *o
	return &out, nil
}

func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
