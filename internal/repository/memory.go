package repository

import (
	"context"
	"sync"
	"time"

	"clinicrooms/internal/models"
)

type memoryDraft struct {
	draft     *models.Draft
	expiresAt time.Time
}

type MemoryDraftRepository struct {
	drafts     sync.Map
	rateLimits sync.Map
	now        func() time.Time
}

func NewMemoryDraftRepository() *MemoryDraftRepository {
	return &MemoryDraftRepository{now: time.Now}
}

func (r *MemoryDraftRepository) GetDraft(_ context.Context, id string) (*models.Draft, error) {
	val, ok := r.drafts.Load(id)
	if !ok {
		return nil, nil
	}
	entry := val.(memoryDraft)
	if !entry.expiresAt.IsZero() && r.now().After(entry.expiresAt) {
		r.drafts.Delete(id)
		return nil, nil
	}
	cp := *entry.draft
	return &cp, nil
}

func (r *MemoryDraftRepository) SaveDraft(_ context.Context, draft *models.Draft, ttl time.Duration) error {
	entry := memoryDraft{draft: draft}
	if ttl > 0 {
		entry.expiresAt = r.now().Add(ttl)
	}
	r.drafts.Store(draft.ID, entry)
	return nil
}

func (r *MemoryDraftRepository) DeleteDraft(_ context.Context, id string) error {
	r.drafts.Delete(id)
	return nil
}

type rateLimitEntry struct {
	mu        sync.Mutex
	count     int
	expiresAt time.Time
}

func (r *MemoryDraftRepository) CheckRateLimit(_ context.Context, userID string, limit int, window time.Duration) (bool, error) {
	now := r.now()
	val, _ := r.rateLimits.LoadOrStore(userID, &rateLimitEntry{})
	entry := val.(*rateLimitEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.count == 0 || now.After(entry.expiresAt) {
		entry.count = 1
		entry.expiresAt = now.Add(window)
	} else {
		entry.count++
	}
	return entry.count <= limit, nil
}
