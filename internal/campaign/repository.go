package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"crmflow/internal/constants"
	"crmflow/internal/segment"
	apperrors "crmflow/pkg/errors"
	"crmflow/pkg/models"
)

type Repository interface {
	Insert(ctx context.Context, c *models.Campaign) error
	Get(ctx context.Context, id string) (*models.Campaign, error)
	// SetStatus moves the campaign to status. Completing also stamps
	// completedAt.
	SetStatus(ctx context.Context, id string, status models.CampaignStatus, at time.Time) error
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(constants.CampaignsCollection),
	}
}

func (r *MongoRepository) Insert(ctx context.Context, c *models.Campaign) error {
	if _, err := r.collection.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.ErrConflict.WithCause(err).WithDetail("campaign_id", c.ID)
		}
		return fmt.Errorf("failed to insert campaign: %w", err)
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*models.Campaign, error) {
	raw, err := r.collection.FindOne(ctx, bson.M{"_id": id}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.ErrNotFound.WithDetail("campaign_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	var c models.Campaign
	if err := bson.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to decode campaign: %w", err)
	}
	// Decoded into the rule type so the document reads back as it was written.
	var rules struct {
		SegmentRules segment.Rule `bson:"segmentRules"`
	}
	if err := bson.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("failed to decode campaign segment rules: %w", err)
	}
	c.SegmentRules = rules.SegmentRules
	return &c, nil
}

func (r *MongoRepository) SetStatus(ctx context.Context, id string, status models.CampaignStatus, at time.Time) error {
	set := bson.M{"status": status, "updatedAt": at}
	if status == models.CampaignStatusCompleted {
		set["completedAt"] = at
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.ErrNotFound.WithDetail("campaign_id", id)
	}
	return nil
}

type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]models.Campaign
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]models.Campaign)}
}

func (r *MemoryRepository) Insert(ctx context.Context, c *models.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[c.ID]; ok {
		return apperrors.ErrConflict.WithDetail("campaign_id", c.ID)
	}
	r.byID[c.ID] = *c
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound.WithDetail("campaign_id", id)
	}
	return &c, nil
}

func (r *MemoryRepository) SetStatus(ctx context.Context, id string, status models.CampaignStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return apperrors.ErrNotFound.WithDetail("campaign_id", id)
	}
	c.Status = status
	c.UpdatedAt = at
	if status == models.CampaignStatusCompleted {
		completed := at
		c.CompletedAt = &completed
	}
	r.byID[id] = c
	return nil
}
