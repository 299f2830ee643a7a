package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/segment"
	"crmflow/internal/testinfra"
	apperrors "crmflow/pkg/errors"
	"crmflow/pkg/models"
)

func TestMongoRepositoryRoundTrip(t *testing.T) {
	repo := NewMongoRepository(testinfra.Mongo(t))
	ctx := context.Background()
	created := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

	rule := segment.Rule{Operator: "AND", Conditions: []segment.Rule{
		{Field: "totalSpend", Condition: ">", Value: "500"},
		{Field: "tags", Condition: "contains", Value: "vip"},
	}}
	require.NoError(t, repo.Insert(ctx, &models.Campaign{
		ID:              "CMP1",
		Name:            "VIP",
		SegmentRules:    rule,
		MessageTemplate: "Hi {name}",
		AudienceSize:    4,
		Status:          models.CampaignStatusCreated,
		CreatedAt:       created,
		UpdatedAt:       created,
	}))
	assert.True(t, apperrors.IsConflict(repo.Insert(ctx, &models.Campaign{ID: "CMP1"})))

	got, err := repo.Get(ctx, "CMP1")
	require.NoError(t, err)
	assert.Equal(t, "VIP", got.Name)
	assert.Equal(t, rule, got.SegmentRules)
	assert.Equal(t, models.CampaignStatusCreated, got.Status)

	require.NoError(t, repo.SetStatus(ctx, "CMP1", models.CampaignStatusCompleted, created.Add(time.Hour)))
	got, err = repo.Get(ctx, "CMP1")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, created.Add(time.Hour).Equal(*got.CompletedAt))

	_, err = repo.Get(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
	assert.True(t, apperrors.IsNotFound(repo.SetStatus(ctx, "missing", models.CampaignStatusCompleted, created)))
}
