package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/broker/brokertest"
	"crmflow/internal/communication"
	"crmflow/internal/config"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/internal/publisher"
	"crmflow/internal/vendor"
	apperrors "crmflow/pkg/errors"
	"crmflow/pkg/models"
)

// everyNth fails every nth call with an error and succeeds otherwise.
type everyNth struct {
	n     int64
	calls atomic.Int64
}

func (s *everyNth) Send(ctx context.Context, recipientID, message string) (vendor.Result, error) {
	if s.calls.Add(1)%s.n == 0 {
		return vendor.Result{}, errors.New("connection reset by peer")
	}
	return vendor.Result{Status: models.CommunicationStatusSent, MessageID: "msg_" + recipientID}, nil
}

// blockingSender waits for cancellation.
type blockingSender struct {
	started chan struct{}
	once    sync.Once
}

func (s *blockingSender) Send(ctx context.Context, recipientID, message string) (vendor.Result, error) {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return vendor.Result{}, ctx.Err()
}

type recordingEntries struct {
	*communication.MemoryRepository
	mu      sync.Mutex
	batches []int
	failErr error
}

func (r *recordingEntries) InsertMany(ctx context.Context, entries []models.CommunicationLogEntry) error {
	r.mu.Lock()
	r.batches = append(r.batches, len(entries))
	failErr := r.failErr
	r.mu.Unlock()
	if failErr != nil {
		return failErr
	}
	return r.MemoryRepository.InsertMany(ctx, entries)
}

func audienceOf(n int) []models.Customer {
	out := make([]models.Customer, n)
	for i := range out {
		out[i] = models.Customer{
			ID:         fmt.Sprintf("C%03d", i),
			Name:       fmt.Sprintf("Customer %d", i),
			Email:      fmt.Sprintf("c%d@example.com", i),
			TotalSpend: float64(i),
		}
	}
	return out
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("L%05d", n.Add(1)) }
}

func waitFor(t *testing.T, d *Delivery) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.Wait(ctx)
}

func TestDeliveryEndToEndWithFailingVendor(t *testing.T) {
	ctx := context.Background()
	repo := communication.NewMemoryRepository()
	tr := brokertest.NewMemoryTransport()
	pub := publisher.New(tr, logger.NopLogger())
	campaigns := NewMemoryRepository()
	require.NoError(t, campaigns.Insert(ctx, &models.Campaign{ID: "CMP-C", Status: models.CampaignStatusCreated}))

	consumer := communication.NewConsumer(tr, repo, config.CommunicationConsumerConfig{
		BatchSize:     50,
		FlushInterval: 10 * time.Millisecond,
	}, config.RedisStreamConfig{ConsumerName: "comm-1", Count: 100, Block: 5 * time.Millisecond}, logger.NopLogger())

	runCtx, stop := context.WithCancel(ctx)
	consumerDone := make(chan error, 1)
	go func() { consumerDone <- consumer.Run(runCtx) }()

	sender := &everyNth{n: 10}
	orch := NewOrchestrator(repo, sender, pub, config.CampaignConfig{PageSize: 50}, logger.NopLogger(),
		WithCampaignRepository(campaigns),
		WithIDGenerator(sequentialIDs()),
	)
	defer orch.Close()

	d, err := orch.StartDelivery(ctx, "CMP-C", audienceOf(120), "Hi {name}")
	require.NoError(t, err)
	assert.Equal(t, 120, d.AudienceSize())
	require.NoError(t, waitFor(t, d))

	assert.Equal(t, int64(120), sender.calls.Load())
	assert.Equal(t, Progress{Sent: 108, Failed: 12, Pages: 3}, d.Progress())

	require.Eventually(t, func() bool {
		stats, err := repo.Stats(ctx, "CMP-C")
		return err == nil && stats.Pending == 0
	}, 5*time.Second, 10*time.Millisecond)

	stop()
	require.NoError(t, <-consumerDone)

	stats, err := repo.Stats(ctx, "CMP-C")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStats{Sent: 108, Failed: 12, Total: 120}, stats)

	c, err := campaigns.Get(ctx, "CMP-C")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCompleted, c.Status)
	assert.NotNil(t, c.CompletedAt)
}

func TestStartDeliveryInsertsPersonalizedEntriesInBatches(t *testing.T) {
	ctx := context.Background()
	entries := &recordingEntries{MemoryRepository: communication.NewMemoryRepository()}
	tr := brokertest.NewMemoryTransport()
	sender := &everyNth{n: 1000}

	orch := NewOrchestrator(entries, sender, publisher.New(tr, logger.NopLogger()), config.CampaignConfig{}, logger.NopLogger(),
		WithIDGenerator(sequentialIDs()))
	defer orch.Close()

	d, err := orch.StartDelivery(ctx, "CMP1", audienceOf(250), "Hi {name}, you spent {totalSpend}")
	require.NoError(t, err)
	require.NoError(t, waitFor(t, d))

	assert.Equal(t, []int{100, 100, 50}, entries.batches)

	first, ok := entries.Get("L00001")
	require.True(t, ok)
	assert.Equal(t, "CMP1", first.CampaignID)
	assert.Equal(t, "C000", first.CustomerID)
	assert.Equal(t, "Hi Customer 0, you spent 0.00", first.Message)

	assert.Equal(t, 250, tr.Len(constants.CommunicationStream))
	assert.Equal(t, Progress{Sent: 250, Pages: 5}, d.Progress())
}

func TestStartDeliveryPropagatesInsertFailure(t *testing.T) {
	entries := &recordingEntries{
		MemoryRepository: communication.NewMemoryRepository(),
		failErr:          errors.New("write concern timeout"),
	}
	sender := &everyNth{n: 10}
	orch := NewOrchestrator(entries, sender, publisher.New(brokertest.NewMemoryTransport(), logger.NopLogger()),
		config.CampaignConfig{}, logger.NopLogger())
	defer orch.Close()

	d, err := orch.StartDelivery(context.Background(), "CMP1", audienceOf(3), "Hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write concern timeout")
	assert.Nil(t, d)
	assert.Nil(t, orch.Delivery("CMP1"))
	assert.Zero(t, sender.calls.Load())
}

func TestStartDeliveryRejectsConcurrentRunForSameCampaign(t *testing.T) {
	sender := &blockingSender{started: make(chan struct{})}
	orch := NewOrchestrator(communication.NewMemoryRepository(), sender,
		publisher.New(brokertest.NewMemoryTransport(), logger.NopLogger()), config.CampaignConfig{}, logger.NopLogger())
	defer orch.Close()

	_, err := orch.StartDelivery(context.Background(), "CMP1", audienceOf(1), "Hi")
	require.NoError(t, err)
	<-sender.started

	_, err = orch.StartDelivery(context.Background(), "CMP1", audienceOf(1), "Hi")
	assert.True(t, apperrors.IsConflict(err))
}

// gatedEntries holds InsertMany until release is closed.
type gatedEntries struct {
	*communication.MemoryRepository
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedEntries) InsertMany(ctx context.Context, entries []models.CommunicationLogEntry) error {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.MemoryRepository.InsertMany(ctx, entries)
}

func TestStartDeliveryRejectsSecondStartWhileFirstIsInserting(t *testing.T) {
	entries := &gatedEntries{
		MemoryRepository: communication.NewMemoryRepository(),
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	orch := NewOrchestrator(entries, &everyNth{n: 1000}, publisher.New(brokertest.NewMemoryTransport(), logger.NopLogger()),
		config.CampaignConfig{}, logger.NopLogger())
	defer orch.Close()

	type result struct {
		d   *Delivery
		err error
	}
	first := make(chan result, 1)
	go func() {
		d, err := orch.StartDelivery(context.Background(), "CMP1", audienceOf(3), "Hi")
		first <- result{d, err}
	}()
	<-entries.entered

	_, err := orch.StartDelivery(context.Background(), "CMP1", audienceOf(3), "Hi")
	assert.True(t, apperrors.IsConflict(err), "%v", err)

	close(entries.release)
	res := <-first
	require.NoError(t, res.err)
	require.NoError(t, waitFor(t, res.d))
	assert.Equal(t, Progress{Sent: 3, Pages: 1}, res.d.Progress())

	stats, err := entries.Stats(context.Background(), "CMP1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
}

func TestCloseStopsRunningDeliveries(t *testing.T) {
	ctx := context.Background()
	campaigns := NewMemoryRepository()
	require.NoError(t, campaigns.Insert(ctx, &models.Campaign{ID: "CMP1", Status: models.CampaignStatusCreated}))

	sender := &blockingSender{started: make(chan struct{})}
	repo := communication.NewMemoryRepository()
	orch := NewOrchestrator(repo, sender, publisher.New(brokertest.NewMemoryTransport(), logger.NopLogger()),
		config.CampaignConfig{}, logger.NopLogger(), WithCampaignRepository(campaigns))

	d, err := orch.StartDelivery(ctx, "CMP1", audienceOf(5), "Hi")
	require.NoError(t, err)
	<-sender.started
	assert.NoError(t, d.Err())

	orch.Close()

	select {
	case <-d.Done():
	default:
		t.Fatal("delivery still running after Close")
	}
	assert.ErrorIs(t, d.Err(), context.Canceled)

	stats, err := repo.Stats(ctx, "CMP1")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Pending)

	c, err := campaigns.Get(ctx, "CMP1")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusDelivering, c.Status)

	_, err = orch.StartDelivery(ctx, "CMP2", audienceOf(1), "Hi")
	assert.Error(t, err)
}

func TestPersonalize(t *testing.T) {
	tests := []struct {
		name     string
		template string
		customer models.Customer
		want     string
	}{
		{
			name:     "all fields",
			template: "Hi {name} ({email}), you spent ${totalSpend}",
			customer: models.Customer{Name: "Ada", Email: "ada@example.com", TotalSpend: 1234.5},
			want:     "Hi Ada (ada@example.com), you spent $1234.50",
		},
		{
			name:     "defaults",
			template: "Hi {name} <{email}> {totalSpend}",
			customer: models.Customer{},
			want:     "Hi Customer <> 0.00",
		},
		{
			name:     "repeated placeholders",
			template: "{name}, {name}!",
			customer: models.Customer{Name: "Bo"},
			want:     "Bo, Bo!",
		},
		{
			name:     "unknown placeholders kept",
			template: "Hi {firstName}",
			customer: models.Customer{Name: "Bo"},
			want:     "Hi {firstName}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Personalize(tt.template, tt.customer))
		})
	}
}
