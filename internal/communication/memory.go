package communication

import (
	"context"
	"sort"
	"sync"

	"crmflow/pkg/models"
)

// MemoryRepository is a Repository kept in process memory for tests.
type MemoryRepository struct {
	mu      sync.Mutex
	byID    map[string]*models.CommunicationLogEntry
	failErr error
	writes  int
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*models.CommunicationLogEntry)}
}

// FailWith makes every write return err until cleared with nil.
func (r *MemoryRepository) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
}

func (r *MemoryRepository) Insert(ctx context.Context, entry *models.CommunicationLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.insertLocked(*entry)
	return nil
}

func (r *MemoryRepository) InsertMany(ctx context.Context, entries []models.CommunicationLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	for _, e := range entries {
		r.insertLocked(e)
	}
	return nil
}

func (r *MemoryRepository) insertLocked(e models.CommunicationLogEntry) {
	if _, ok := r.byID[e.ID]; ok {
		return
	}
	r.byID[e.ID] = &e
}

func (r *MemoryRepository) BulkUpdateStatus(ctx context.Context, updates []models.StatusUpdate) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return 0, r.failErr
	}

	r.writes++
	var modified int64
	for _, u := range updates {
		e, ok := r.byID[u.ID]
		if !ok || e.Status != models.CommunicationStatusPending {
			continue
		}
		e.Status = u.Status
		e.DeliveredAt = u.DeliveredAt
		e.ErrorReason = u.ErrorReason
		e.UpdatedAt = u.UpdatedAt
		modified++
	}
	return modified, nil
}

func (r *MemoryRepository) FindPending(ctx context.Context, campaignID, afterID string, limit int64) ([]models.CommunicationLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}

	var out []models.CommunicationLogEntry
	for _, e := range r.byID {
		if e.CampaignID == campaignID && e.Status == models.CommunicationStatusPending && e.ID > afterID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Stats(ctx context.Context, campaignID string) (models.DeliveryStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return models.DeliveryStats{}, r.failErr
	}

	var stats models.DeliveryStats
	for _, e := range r.byID {
		if e.CampaignID == campaignID {
			stats.Add(e.Status, 1)
		}
	}
	return stats, nil
}

func (r *MemoryRepository) Get(id string) (models.CommunicationLogEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return models.CommunicationLogEntry{}, false
	}
	return *e, true
}

// BulkWrites returns how many BulkUpdateStatus calls succeeded.
func (r *MemoryRepository) BulkWrites() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}
