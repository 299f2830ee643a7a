package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/internal/segment"
	apperrors "crmflow/pkg/errors"
	"crmflow/pkg/logging"
	"crmflow/pkg/models"
)

type StatsSource interface {
	Stats(ctx context.Context, campaignID string) (models.DeliveryStats, error)
}

type LaunchRequest struct {
	Name            string       `json:"name"`
	SegmentRules    segment.Rule `json:"segmentRules"`
	MessageTemplate string       `json:"messageTemplate"`
}

type LaunchResult struct {
	CampaignID   string `json:"campaignId"`
	AudienceSize int    `json:"audienceSize"`
}

type Preview struct {
	AudienceSize int64             `json:"audienceSize"`
	Sample       []models.Customer `json:"sampleAudience"`
}

type Report struct {
	Campaign *models.Campaign     `json:"campaign"`
	Stats    models.DeliveryStats `json:"stats"`
	Progress *Progress            `json:"progress,omitempty"`
}

// Service is the request-path entry into campaigns: it resolves the audience,
// records the campaign and hands it to the orchestrator.
type Service struct {
	campaigns    Repository
	evaluator    segment.Evaluator
	orchestrator *Orchestrator
	stats        StatsSource
	logger       logger.Logger

	previewSample int
	newID         func() string
	now           func() time.Time
}

func NewService(campaigns Repository, evaluator segment.Evaluator, orchestrator *Orchestrator, stats StatsSource, previewSample int, log logger.Logger) *Service {
	if previewSample <= 0 {
		previewSample = constants.DefaultCampaignPreviewSample
	}
	return &Service{
		campaigns:     campaigns,
		evaluator:     evaluator,
		orchestrator:  orchestrator,
		stats:         stats,
		logger:        log,
		previewSample: previewSample,
		newID:         uuid.NewString,
		now:           time.Now,
	}
}

func (s *Service) Launch(ctx context.Context, req LaunchRequest) (LaunchResult, error) {
	if strings.TrimSpace(req.Name) == "" {
		return LaunchResult{}, apperrors.ErrValidation.WithDetail("field", "name").WithDetail("message", "name is required")
	}
	if strings.TrimSpace(req.MessageTemplate) == "" {
		return LaunchResult{}, apperrors.ErrValidation.WithDetail("field", "messageTemplate").WithDetail("message", "messageTemplate is required")
	}

	audience, err := s.evaluator.Audience(ctx, req.SegmentRules, 0)
	if err != nil {
		return LaunchResult{}, err
	}

	now := s.now()
	c := &models.Campaign{
		ID:              s.newID(),
		Name:            req.Name,
		SegmentRules:    req.SegmentRules,
		MessageTemplate: req.MessageTemplate,
		AudienceSize:    len(audience),
		Status:          models.CampaignStatusCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	ctx = logging.WithCampaignID(ctx, c.ID)
	if err := s.campaigns.Insert(ctx, c); err != nil {
		return LaunchResult{}, err
	}

	if _, err := s.orchestrator.StartDelivery(ctx, c.ID, audience, c.MessageTemplate); err != nil {
		return LaunchResult{}, fmt.Errorf("failed to start delivery: %w", err)
	}

	s.logger.InfowCtx(ctx, "Launched campaign", "name", c.Name, "audience_size", c.AudienceSize)
	return LaunchResult{CampaignID: c.ID, AudienceSize: c.AudienceSize}, nil
}

func (s *Service) Preview(ctx context.Context, rule segment.Rule) (Preview, error) {
	n, err := s.evaluator.Count(ctx, rule)
	if err != nil {
		return Preview{}, err
	}
	sample, err := s.evaluator.Audience(ctx, rule, int64(s.previewSample))
	if err != nil {
		return Preview{}, err
	}
	if sample == nil {
		sample = []models.Customer{}
	}
	return Preview{AudienceSize: n, Sample: sample}, nil
}

func (s *Service) Report(ctx context.Context, campaignID string) (Report, error) {
	c, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return Report{}, err
	}
	stats, err := s.stats.Stats(ctx, campaignID)
	if err != nil {
		return Report{}, fmt.Errorf("failed to aggregate delivery stats: %w", err)
	}

	r := Report{Campaign: c, Stats: stats}
	if d := s.orchestrator.Delivery(campaignID); d != nil {
		p := d.Progress()
		r.Progress = &p
	}
	return r, nil
}
