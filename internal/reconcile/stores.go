package reconcile

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
)

// Journal records every phase change of a submission.
type Journal interface {
	Record(ctx context.Context, sub domain.SubmissionState) error
}

// LikeStore persists the submitter's own like relations, which the ledger cannot be
// queried for.
type LikeStore interface {
	LikedReviews(ctx context.Context, submitter domain.Submitter, ids []domain.ReviewID) (map[domain.ReviewID]bool, error)
	SetLiked(ctx context.Context, submitter domain.Submitter, movieID domain.MovieID, reviewID domain.ReviewID, liked bool) error
}

// MemoryJournal keeps the latest state of each submission in memory.
type MemoryJournal struct {
	mu    sync.Mutex
	items map[uuid.UUID]domain.SubmissionState
}

// NewMemoryJournal returns an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{items: make(map[uuid.UUID]domain.SubmissionState)}
}

// Record implements Journal.
func (j *MemoryJournal) Record(_ context.Context, sub domain.SubmissionState) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	sub.History = append([]domain.Phase(nil), sub.History...)
	j.items[sub.ID] = sub
	return nil
}

// ListBySubmitter returns journaled submissions newest first.
func (j *MemoryJournal) ListBySubmitter(_ context.Context, submitter domain.Submitter, limit int) ([]domain.SubmissionState, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.SubmissionState, 0)
	for _, sub := range j.items {
		if sub.Submitter == submitter {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type likeKey struct {
	submitter domain.Submitter
	review    domain.ReviewID
}

// MemoryLikes is a LikeStore for runs without a database.
type MemoryLikes struct {
	mu    sync.RWMutex
	liked map[likeKey]bool
}

// NewMemoryLikes returns an empty store.
func NewMemoryLikes() *MemoryLikes {
	return &MemoryLikes{liked: make(map[likeKey]bool)}
}

// LikedReviews implements LikeStore.
func (m *MemoryLikes) LikedReviews(_ context.Context, submitter domain.Submitter, ids []domain.ReviewID) (map[domain.ReviewID]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.ReviewID]bool)
	for _, id := range ids {
		if m.liked[likeKey{submitter, id}] {
			out[id] = true
		}
	}
	return out, nil
}

// SetLiked implements LikeStore.
func (m *MemoryLikes) SetLiked(_ context.Context, submitter domain.Submitter, _ domain.MovieID, reviewID domain.ReviewID, liked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if liked {
		m.liked[likeKey{submitter, reviewID}] = true
	} else {
		delete(m.liked, likeKey{submitter, reviewID})
	}
	return nil
}
