package communication

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crmflow/internal/constants"
	"crmflow/pkg/models"
)

const duplicateKeyCode = 11000

type Repository interface {
	// Insert stores one log entry. Re-inserting an existing id is a no-op.
	Insert(ctx context.Context, entry *models.CommunicationLogEntry) error
	// InsertMany stores entries in one write, skipping ids that already exist.
	InsertMany(ctx context.Context, entries []models.CommunicationLogEntry) error
	// BulkUpdateStatus applies updates to entries that are still PENDING and
	// returns how many changed.
	BulkUpdateStatus(ctx context.Context, updates []models.StatusUpdate) (int64, error)
	// FindPending pages PENDING entries of a campaign by ascending id,
	// starting after afterID.
	FindPending(ctx context.Context, campaignID, afterID string, limit int64) ([]models.CommunicationLogEntry, error)
	Stats(ctx context.Context, campaignID string) (models.DeliveryStats, error)
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(constants.CommunicationsCollection),
	}
}

func (r *MongoRepository) Insert(ctx context.Context, entry *models.CommunicationLogEntry) error {
	_, err := r.collection.InsertOne(ctx, entry)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to insert communication log: %w", err)
	}
	return nil
}

func (r *MongoRepository) InsertMany(ctx context.Context, entries []models.CommunicationLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	docs := make([]interface{}, len(entries))
	for i := range entries {
		docs[i] = entries[i]
	}

	_, err := r.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !onlyDuplicates(err) {
		return fmt.Errorf("failed to insert communication logs: %w", err)
	}
	return nil
}

func onlyDuplicates(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return true
}

func (r *MongoRepository) BulkUpdateStatus(ctx context.Context, updates []models.StatusUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	writes := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": u.ID, "status": models.CommunicationStatusPending}).
			SetUpdate(bson.M{"$set": bson.M{
				"status":      u.Status,
				"deliveredAt": u.DeliveredAt,
				"errorReason": u.ErrorReason,
				"updatedAt":   u.UpdatedAt,
			}}))
	}

	result, err := r.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update communication status: %w", err)
	}
	return result.ModifiedCount, nil
}

func (r *MongoRepository) FindPending(ctx context.Context, campaignID, afterID string, limit int64) ([]models.CommunicationLogEntry, error) {
	filter := bson.M{
		"campaignId": campaignID,
		"status":     models.CommunicationStatusPending,
	}
	if afterID != "" {
		filter["_id"] = bson.M{"$gt": afterID}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending communications: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []models.CommunicationLogEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode pending communications: %w", err)
	}
	return entries, nil
}

func (r *MongoRepository) Stats(ctx context.Context, campaignID string) (models.DeliveryStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"campaignId": campaignID}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return models.DeliveryStats{}, fmt.Errorf("failed to aggregate delivery stats: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status models.CommunicationStatus `bson:"_id"`
		Count  int                        `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return models.DeliveryStats{}, fmt.Errorf("failed to decode delivery stats: %w", err)
	}

	var stats models.DeliveryStats
	for _, row := range rows {
		stats.Add(row.Status, row.Count)
	}
	return stats, nil
}
