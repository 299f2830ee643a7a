package communication

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/testinfra"
	"crmflow/pkg/models"
)

func seedEntries(campaignID string, n int) []models.CommunicationLogEntry {
	entries := make([]models.CommunicationLogEntry, n)
	for i := range entries {
		entries[i] = models.CommunicationLogEntry{
			ID:         fmt.Sprintf("%s-%03d", campaignID, i),
			CampaignID: campaignID,
			CustomerID: fmt.Sprintf("C%d", i),
			Message:    "hello",
			Status:     models.CommunicationStatusPending,
			CreatedAt:  time.Now().UTC(),
			UpdatedAt:  time.Now().UTC(),
		}
	}
	return entries
}

func repositories(t *testing.T) map[string]Repository {
	repos := map[string]Repository{"memory": NewMemoryRepository()}
	if !testing.Short() {
		repos["mongo"] = NewMongoRepository(testinfra.Mongo(t))
	}
	return repos
}

func TestRepositoryInsertManySkipsExisting(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			entries := seedEntries("CMP1", 3)

			require.NoError(t, repo.InsertMany(ctx, entries[:2]))
			require.NoError(t, repo.InsertMany(ctx, entries))

			stats, err := repo.Stats(ctx, "CMP1")
			require.NoError(t, err)
			assert.Equal(t, models.DeliveryStats{Pending: 3, Total: 3}, stats)
		})
	}
}

func TestRepositoryBulkUpdateOnlyTouchesPending(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.InsertMany(ctx, seedEntries("CMP1", 3)))

			now := time.Now().UTC().Truncate(time.Millisecond)
			reason := "Network error"
			modified, err := repo.BulkUpdateStatus(ctx, []models.StatusUpdate{
				{ID: "CMP1-000", Status: models.CommunicationStatusSent, DeliveredAt: &now, UpdatedAt: now},
				{ID: "CMP1-001", Status: models.CommunicationStatusFailed, ErrorReason: &reason, UpdatedAt: now},
				{ID: "missing", Status: models.CommunicationStatusSent, UpdatedAt: now},
			})
			require.NoError(t, err)
			assert.Equal(t, int64(2), modified)

			modified, err = repo.BulkUpdateStatus(ctx, []models.StatusUpdate{
				{ID: "CMP1-000", Status: models.CommunicationStatusFailed, ErrorReason: &reason, UpdatedAt: now},
			})
			require.NoError(t, err)
			assert.Equal(t, int64(0), modified)

			stats, err := repo.Stats(ctx, "CMP1")
			require.NoError(t, err)
			assert.Equal(t, models.DeliveryStats{Sent: 1, Failed: 1, Pending: 1, Total: 3}, stats)
		})
	}
}

func TestRepositoryFindPendingPagesByID(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.InsertMany(ctx, seedEntries("CMP1", 5)))
			require.NoError(t, repo.InsertMany(ctx, seedEntries("CMP2", 2)))

			page, err := repo.FindPending(ctx, "CMP1", "", 2)
			require.NoError(t, err)
			require.Len(t, page, 2)
			assert.Equal(t, "CMP1-000", page[0].ID)
			assert.Equal(t, "CMP1-001", page[1].ID)

			now := time.Now().UTC()
			_, err = repo.BulkUpdateStatus(ctx, []models.StatusUpdate{
				{ID: "CMP1-003", Status: models.CommunicationStatusSent, DeliveredAt: &now, UpdatedAt: now},
			})
			require.NoError(t, err)

			page, err = repo.FindPending(ctx, "CMP1", "CMP1-001", 10)
			require.NoError(t, err)
			require.Len(t, page, 2)
			assert.Equal(t, "CMP1-002", page[0].ID)
			assert.Equal(t, "CMP1-004", page[1].ID)

			page, err = repo.FindPending(ctx, "CMP1", "CMP1-004", 10)
			require.NoError(t, err)
			assert.Empty(t, page)
		})
	}
}
