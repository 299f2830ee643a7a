package customer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crmflow/internal/constants"
	apperrors "crmflow/pkg/errors"
	"crmflow/pkg/models"
)

type Repository interface {
	// Insert stores a new customer. Re-inserting an existing id is a no-op;
	// an e-mail owned by another id is a conflict.
	Insert(ctx context.Context, c *models.Customer) error
	// Update merges fields and sets updatedAt. Unknown ids are not found.
	Update(ctx context.Context, id string, fields map[string]interface{}, at time.Time) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.Customer, error)
	// RecordPurchase atomically adds amount to totalSpend and sets
	// lastPurchaseDate. It reports false when the order was already counted.
	RecordPurchase(ctx context.Context, customerID, orderID string, amount float64, at time.Time) (bool, error)
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(constants.CustomersCollection),
	}
}

func (r *MongoRepository) Insert(ctx context.Context, c *models.Customer) error {
	_, err := r.collection.InsertOne(ctx, c)
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to insert customer: %w", err)
	}

	n, countErr := r.collection.CountDocuments(ctx, bson.M{"_id": c.ID})
	if countErr != nil {
		return fmt.Errorf("failed to resolve duplicate customer: %w", countErr)
	}
	if n > 0 {
		return nil
	}
	return apperrors.ErrConflict.WithCause(err).WithDetail("email", c.Email)
}

func (r *MongoRepository) Update(ctx context.Context, id string, fields map[string]interface{}, at time.Time) error {
	set := bson.M{"updatedAt": at}
	for k, v := range fields {
		set[k] = v
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if mongo.IsDuplicateKeyError(err) {
		return apperrors.ErrConflict.WithCause(err).WithDetail("customer_id", id)
	}
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}

	if result.MatchedCount == 0 {
		return apperrors.ErrNotFound.WithDetail("customer_id", id)
	}

	return nil
}

func (r *MongoRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}

	if result.DeletedCount == 0 {
		return apperrors.ErrNotFound.WithDetail("customer_id", id)
	}

	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*models.Customer, error) {
	var c models.Customer
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.ErrNotFound.WithDetail("customer_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	return &c, nil
}

func (r *MongoRepository) RecordPurchase(ctx context.Context, customerID, orderID string, amount float64, at time.Time) (bool, error) {
	filter := bson.M{
		"_id":            customerID,
		"recentOrderIds": bson.M{"$ne": orderID},
	}
	update := bson.M{
		"$inc": bson.M{"totalSpend": amount},
		"$set": bson.M{"lastPurchaseDate": at, "updatedAt": time.Now()},
		"$push": bson.M{"recentOrderIds": bson.M{
			"$each":  bson.A{orderID},
			"$slice": -constants.RecentOrderWindow,
		}},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to record purchase: %w", err)
	}

	return result.ModifiedCount == 1, nil
}

// Find returns customers matching a MongoDB filter ordered by id. It backs
// the segment evaluator.
func (r *MongoRepository) Find(ctx context.Context, filter interface{}, limit int64) ([]models.Customer, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find customers: %w", err)
	}
	defer cursor.Close(ctx)

	var customers []models.Customer
	if err := cursor.All(ctx, &customers); err != nil {
		return nil, fmt.Errorf("failed to decode customers: %w", err)
	}

	return customers, nil
}

func (r *MongoRepository) Count(ctx context.Context, filter interface{}) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count customers: %w", err)
	}
	return n, nil
}
