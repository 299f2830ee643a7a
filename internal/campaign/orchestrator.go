// Package campaign launches campaigns and drives delivery of their messages
// through the vendor.
package campaign

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"crmflow/internal/broker"
	"crmflow/internal/config"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/internal/vendor"
	apperrors "crmflow/pkg/errors"
	"crmflow/pkg/logging"
	"crmflow/pkg/metrics"
	"crmflow/pkg/models"
	"crmflow/pkg/retry"
)

const internalErrorReason = "Internal service error"

// Entries is the part of the communication log store the orchestrator uses.
type Entries interface {
	InsertMany(ctx context.Context, entries []models.CommunicationLogEntry) error
	FindPending(ctx context.Context, campaignID, afterID string, limit int64) ([]models.CommunicationLogEntry, error)
}

type StatusPublisher interface {
	PublishStatus(ctx context.Context, entryID string, status models.CommunicationStatus, reason string) (string, error)
}

// Orchestrator writes a PENDING log entry per recipient and then drains the
// campaign's pending entries through the vendor in pages. Outcomes are
// published as status updates; the communication consumer persists them.
type Orchestrator struct {
	entries   Entries
	campaigns Repository
	sender    vendor.Sender
	publisher StatusPublisher
	logger    logger.Logger

	insertBatch   int
	pageSize      int64
	pageDelay     time.Duration
	errorBackoff  time.Duration
	limiter       *rate.Limiter
	publishPolicy retry.Policy

	newID func() string
	now   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	deliveries map[string]*Delivery
}

type Option func(*Orchestrator)

// WithCampaignRepository makes the orchestrator persist campaign status
// transitions.
func WithCampaignRepository(repo Repository) Option {
	return func(o *Orchestrator) {
		o.campaigns = repo
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) {
		o.newID = newID
	}
}

func NewOrchestrator(entries Entries, sender vendor.Sender, publisher StatusPublisher, cfg config.CampaignConfig, log logger.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		entries:      entries,
		sender:       sender,
		publisher:    publisher,
		logger:       log,
		insertBatch:  cfg.InsertBatchSize,
		pageSize:     cfg.PageSize,
		pageDelay:    cfg.PageDelay,
		errorBackoff: constants.DefaultErrorBackoff,
		limiter:      rate.NewLimiter(rate.Inf, 0),
		publishPolicy: retry.Policy{
			MaxAttempts:     3,
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     time.Second,
		},
		newID:      uuid.NewString,
		now:        time.Now,
		deliveries: make(map[string]*Delivery),
	}
	if o.insertBatch <= 0 {
		o.insertBatch = constants.DefaultCampaignInsertBatchSize
	}
	if o.pageSize <= 0 {
		o.pageSize = constants.DefaultCampaignPageSize
	}
	if o.pageDelay < 0 {
		o.pageDelay = 0
	}
	if cfg.VendorRPS > 0 {
		burst := cfg.VendorBurst
		if burst <= 0 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(cfg.VendorRPS), burst)
	}
	for _, opt := range opts {
		opt(o)
	}

	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o
}

// StartDelivery inserts one PENDING log entry per recipient and starts the
// drain loop in the background. Insert failures are returned and no loop is
// started.
func (o *Orchestrator) StartDelivery(ctx context.Context, campaignID string, audience []models.Customer, template string) (*Delivery, error) {
	if campaignID == "" {
		return nil, apperrors.ErrValidation.WithDetail("field", "campaignId")
	}
	if err := o.ctx.Err(); err != nil {
		return nil, apperrors.ErrServiceUnavailable.WithCause(err)
	}
	d, err := o.register(campaignID, len(audience))
	if err != nil {
		return nil, err
	}

	ctx = logging.WithCampaignID(ctx, campaignID)
	now := o.now()
	logs := make([]models.CommunicationLogEntry, len(audience))
	for i, c := range audience {
		logs[i] = models.CommunicationLogEntry{
			ID:         o.newID(),
			CampaignID: campaignID,
			CustomerID: c.ID,
			Message:    Personalize(template, c),
			Status:     models.CommunicationStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	for start := 0; start < len(logs); start += o.insertBatch {
		end := start + o.insertBatch
		if end > len(logs) {
			end = len(logs)
		}
		if err := o.entries.InsertMany(ctx, logs[start:end]); err != nil {
			err = fmt.Errorf("failed to insert communication logs for campaign %s: %w", campaignID, err)
			o.unregister(d, err)
			return nil, err
		}
	}

	o.setStatus(ctx, campaignID, models.CampaignStatusDelivering)

	runCtx := logging.WithCampaignID(o.ctx, campaignID)
	o.wg.Add(1)
	metrics.CampaignActiveDeliveries.Inc()
	go func() {
		defer o.wg.Done()
		defer metrics.CampaignActiveDeliveries.Dec()
		d.finish(o.drain(runCtx, d))
	}()

	o.logger.InfowCtx(ctx, "Started campaign delivery", "audience_size", len(audience))
	return d, nil
}

// register reserves campaignID for a new delivery. A delivery that is still
// running, or still inserting its entries, makes it a conflict.
func (o *Orchestrator) register(campaignID string, audienceSize int) (*Delivery, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if d, ok := o.deliveries[campaignID]; ok {
		select {
		case <-d.Done():
		default:
			return nil, apperrors.ErrConflict.WithDetail("campaign_id", campaignID).WithDetail("message", "delivery already running")
		}
	}
	d := newDelivery(campaignID, audienceSize)
	o.deliveries[campaignID] = d
	return d, nil
}

func (o *Orchestrator) unregister(d *Delivery, err error) {
	o.mu.Lock()
	if o.deliveries[d.campaignID] == d {
		delete(o.deliveries, d.campaignID)
	}
	o.mu.Unlock()
	d.finish(err)
}

// Delivery returns the most recent delivery started for campaignID, or nil.
func (o *Orchestrator) Delivery(campaignID string) *Delivery {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.deliveries[campaignID]
}

// Close stops every running drain loop and waits for them to return.
// Entries not yet sent stay PENDING.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) drain(ctx context.Context, d *Delivery) error {
	lastID := ""
	for {
		page, err := o.entries.FindPending(ctx, d.campaignID, lastID, o.pageSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.ErrorwCtx(ctx, "Failed to fetch pending communication logs", "error", err, "after_id", lastID)
			if err := broker.Sleep(ctx, o.errorBackoff); err != nil {
				return err
			}
			continue
		}
		if len(page) == 0 {
			break
		}

		var g errgroup.Group
		for _, entry := range page {
			g.Go(func() error {
				return o.deliver(ctx, d, entry)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		lastID = page[len(page)-1].ID
		d.pages.Add(1)

		if err := broker.Sleep(ctx, o.pageDelay); err != nil {
			return err
		}
	}

	o.setStatus(ctx, d.campaignID, models.CampaignStatusCompleted)
	p := d.Progress()
	o.logger.InfowCtx(ctx, "Campaign delivery completed",
		"sent", p.Sent,
		"failed", p.Failed,
		"pages", p.Pages,
	)
	return nil
}

// deliver sends one entry and publishes its outcome. Vendor failures become
// FAILED updates; only cancellation is returned.
func (o *Orchestrator) deliver(ctx context.Context, d *Delivery, entry models.CommunicationLogEntry) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}

	status := models.CommunicationStatusSent
	reason := ""
	res, err := o.sender.Send(ctx, entry.CustomerID, entry.Message)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.logger.WarnwCtx(ctx, "Vendor send failed",
			"communication_id", entry.ID,
			"customer_id", entry.CustomerID,
			"error", err,
		)
		status, reason = models.CommunicationStatusFailed, internalErrorReason
	case res.Status == models.CommunicationStatusFailed:
		status, reason = models.CommunicationStatusFailed, res.ErrorReason
	}

	err = retry.Retry(ctx, o.publishPolicy, func() error {
		_, err := o.publisher.PublishStatus(ctx, entry.ID, status, reason)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.IncCampaignDelivery("unpublished")
		o.logger.ErrorwCtx(ctx, "Failed to publish delivery status, entry stays pending",
			"communication_id", entry.ID,
			"status", status,
			"error", err,
		)
		return nil
	}

	metrics.IncCampaignDelivery(string(status))
	if status == models.CommunicationStatusSent {
		d.sent.Add(1)
	} else {
		d.failed.Add(1)
	}
	return nil
}

func (o *Orchestrator) setStatus(ctx context.Context, campaignID string, status models.CampaignStatus) {
	if o.campaigns == nil {
		return
	}
	if err := o.campaigns.SetStatus(ctx, campaignID, status, o.now()); err != nil {
		o.logger.WarnwCtx(ctx, "Failed to update campaign status", "status", status, "error", err)
	}
}

// Delivery is the handle of one campaign's drain loop.
type Delivery struct {
	campaignID   string
	audienceSize int

	done chan struct{}
	err  error

	sent   atomic.Int64
	failed atomic.Int64
	pages  atomic.Int64
}

type Progress struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
	Pages  int64 `json:"pages"`
}

func newDelivery(campaignID string, audienceSize int) *Delivery {
	return &Delivery{
		campaignID:   campaignID,
		audienceSize: audienceSize,
		done:         make(chan struct{}),
	}
}

func (d *Delivery) finish(err error) {
	d.err = err
	close(d.done)
}

func (d *Delivery) CampaignID() string { return d.campaignID }

func (d *Delivery) AudienceSize() int { return d.audienceSize }

// Done is closed when the drain loop has returned.
func (d *Delivery) Done() <-chan struct{} { return d.done }

// Wait blocks until the drain loop returns or ctx ends.
func (d *Delivery) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err is the drain loop's result; nil while it is still running.
func (d *Delivery) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

// Progress counts the outcomes published so far.
func (d *Delivery) Progress() Progress {
	return Progress{
		Sent:   d.sent.Load(),
		Failed: d.failed.Load(),
		Pages:  d.pages.Load(),
	}
}
