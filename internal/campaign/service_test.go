package campaign

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/broker/brokertest"
	"crmflow/internal/communication"
	"crmflow/internal/config"
	"crmflow/internal/customer"
	"crmflow/internal/logger"
	"crmflow/internal/publisher"
	"crmflow/internal/segment"
	apperrors "crmflow/pkg/errors"
	"crmflow/pkg/models"
)

type serviceHarness struct {
	customers *customer.MemoryRepository
	entries   *communication.MemoryRepository
	campaigns *MemoryRepository
	orch      *Orchestrator
	service   *Service
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()
	ctx := context.Background()

	customers := customer.NewMemoryRepository()
	for i := 0; i < 8; i++ {
		c := models.Customer{
			ID:         fmt.Sprintf("C%d", i),
			Name:       fmt.Sprintf("Customer %d", i),
			Email:      fmt.Sprintf("c%d@example.com", i),
			TotalSpend: float64(i * 100),
			Visits:     i,
		}
		require.NoError(t, customers.Insert(ctx, &c))
	}

	validator, err := segment.NewValidator()
	require.NoError(t, err)

	entries := communication.NewMemoryRepository()
	campaigns := NewMemoryRepository()
	orch := NewOrchestrator(entries, &everyNth{n: 1000}, publisher.New(brokertest.NewMemoryTransport(), logger.NopLogger()),
		config.CampaignConfig{}, logger.NopLogger(), WithCampaignRepository(campaigns))
	t.Cleanup(orch.Close)

	svc := NewService(campaigns, segment.NewMemoryEvaluator(customers, validator), orch, entries, 3, logger.NopLogger())
	svc.newID = func() string { return "CMP1" }

	return &serviceHarness{
		customers: customers,
		entries:   entries,
		campaigns: campaigns,
		orch:      orch,
		service:   svc,
	}
}

func TestServiceLaunch(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	res, err := h.service.Launch(ctx, LaunchRequest{
		Name:            "Big spenders",
		SegmentRules:    segment.Rule{Field: "totalSpend", Condition: ">=", Value: "500"},
		MessageTemplate: "Thanks {name}!",
	})
	require.NoError(t, err)
	assert.Equal(t, LaunchResult{CampaignID: "CMP1", AudienceSize: 3}, res)

	d := h.orch.Delivery("CMP1")
	require.NotNil(t, d)
	require.NoError(t, waitFor(t, d))

	c, err := h.campaigns.Get(ctx, "CMP1")
	require.NoError(t, err)
	assert.Equal(t, "Big spenders", c.Name)
	assert.Equal(t, 3, c.AudienceSize)
	assert.Equal(t, models.CampaignStatusCompleted, c.Status)

	stats, err := h.entries.Stats(ctx, "CMP1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
}

func TestServiceLaunchValidation(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	tests := map[string]LaunchRequest{
		"missing name":     {MessageTemplate: "Hi"},
		"missing template": {Name: "x"},
		"bad rule":         {Name: "x", MessageTemplate: "Hi", SegmentRules: segment.Rule{Field: "country", Condition: "=", Value: "US"}},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := h.service.Launch(ctx, req)
			assert.True(t, apperrors.IsValidation(err), "%v", err)
		})
	}

	_, err := h.campaigns.Get(ctx, "CMP1")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestServicePreview(t *testing.T) {
	h := newServiceHarness(t)

	p, err := h.service.Preview(context.Background(), segment.Rule{Field: "visits", Condition: ">", Value: 1.0})
	require.NoError(t, err)
	assert.Equal(t, int64(6), p.AudienceSize)
	require.Len(t, p.Sample, 3)
	assert.Equal(t, "C2", p.Sample[0].ID)

	p, err = h.service.Preview(context.Background(), segment.Rule{Field: "visits", Condition: ">", Value: 100.0})
	require.NoError(t, err)
	assert.Zero(t, p.AudienceSize)
	assert.NotNil(t, p.Sample)
}

func TestServiceReport(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	_, err := h.service.Report(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = h.service.Launch(ctx, LaunchRequest{Name: "All", MessageTemplate: "Hi {name}"})
	require.NoError(t, err)
	require.NoError(t, waitFor(t, h.orch.Delivery("CMP1")))

	r, err := h.service.Report(ctx, "CMP1")
	require.NoError(t, err)
	assert.Equal(t, "CMP1", r.Campaign.ID)
	assert.Equal(t, 8, r.Stats.Total)
	require.NotNil(t, r.Progress)
	assert.Equal(t, int64(8), r.Progress.Sent)
}

func TestMemoryRepositoryStatusTransitions(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Insert(ctx, &models.Campaign{ID: "CMP1", Status: models.CampaignStatusCreated}))
	assert.True(t, apperrors.IsConflict(repo.Insert(ctx, &models.Campaign{ID: "CMP1"})))

	at := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SetStatus(ctx, "CMP1", models.CampaignStatusDelivering, at))
	c, err := repo.Get(ctx, "CMP1")
	require.NoError(t, err)
	assert.Nil(t, c.CompletedAt)

	require.NoError(t, repo.SetStatus(ctx, "CMP1", models.CampaignStatusCompleted, at.Add(time.Minute)))
	c, err = repo.Get(ctx, "CMP1")
	require.NoError(t, err)
	require.NotNil(t, c.CompletedAt)
	assert.Equal(t, at.Add(time.Minute), *c.CompletedAt)

	assert.True(t, apperrors.IsNotFound(repo.SetStatus(ctx, "nope", models.CampaignStatusCompleted, at)))
}
