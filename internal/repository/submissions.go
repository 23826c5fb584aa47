package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
)

// SubmissionsRepository journals every phase change of a write.
type SubmissionsRepository struct {
	pool *pgxpool.Pool
}

const submissionColumns = `
    id,
    submitter,
    action,
    movie_id,
    review_id,
    rating,
    phase,
    tx_hash,
    reason,
    detail,
    visible,
    history,
    created_at,
    updated_at
`

// Record inserts the submission or overwrites its mutable columns.
func (r *SubmissionsRepository) Record(ctx context.Context, sub domain.SubmissionState) error {
	var reviewID *int64
	if sub.ReviewID != 0 {
		id := int64(sub.ReviewID)
		reviewID = &id
	}
	var rating *int
	if sub.Rating != 0 {
		rating = &sub.Rating
	}
	var reason, detail *string
	if sub.Failure != nil {
		code := string(sub.Failure.Reason)
		reason = &code
		detail = &sub.Failure.Detail
	}
	var txHash *string
	if sub.TxHash != "" {
		txHash = &sub.TxHash
	}
	history := make([]string, 0, len(sub.History))
	for _, p := range sub.History {
		history = append(history, string(p))
	}

	const query = `
        INSERT INTO submissions (id, submitter, action, movie_id, review_id, rating, phase, tx_hash, reason, detail, visible, history, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        ON CONFLICT (id)
        DO UPDATE SET phase = EXCLUDED.phase,
                      tx_hash = EXCLUDED.tx_hash,
                      reason = EXCLUDED.reason,
                      detail = EXCLUDED.detail,
                      visible = EXCLUDED.visible,
                      history = EXCLUDED.history,
                      updated_at = EXCLUDED.updated_at
    `
	_, err := r.pool.Exec(ctx, query,
		sub.ID,
		string(sub.Submitter),
		string(sub.Action),
		int64(sub.MovieID),
		reviewID,
		rating,
		string(sub.Phase),
		txHash,
		reason,
		detail,
		sub.Visible,
		history,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("record submission %s: %w", sub.ID, err)
	}
	return nil
}

// Get fetches a journaled submission by id.
func (r *SubmissionsRepository) Get(ctx context.Context, id uuid.UUID) (domain.SubmissionState, error) {
	query := fmt.Sprintf(`SELECT %s FROM submissions WHERE id = $1`, submissionColumns)
	sub, err := scanSubmission(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SubmissionState{}, ErrNotFound
		}
		return domain.SubmissionState{}, err
	}
	return sub, nil
}

// ListBySubmitter returns the most recent submissions for one submitter, newest first.
func (r *SubmissionsRepository) ListBySubmitter(ctx context.Context, submitter domain.Submitter, limit int) ([]domain.SubmissionState, error) {
	if limit <= 0 {
		limit = 20
	} else if limit > 100 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM submissions WHERE submitter = $1 ORDER BY created_at DESC, id DESC LIMIT %d`, submissionColumns, limit)
	rows, err := r.pool.Query(ctx, query, string(submitter))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SubmissionState, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanSubmission(row pgx.Row) (domain.SubmissionState, error) {
	var (
		sub       domain.SubmissionState
		submitter string
		action    string
		movieID   int64
		reviewID  *int64
		rating    *int
		phase     string
		txHash    *string
		reason    *string
		detail    *string
		history   []string
	)
	err := row.Scan(
		&sub.ID,
		&submitter,
		&action,
		&movieID,
		&reviewID,
		&rating,
		&phase,
		&txHash,
		&reason,
		&detail,
		&sub.Visible,
		&history,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return domain.SubmissionState{}, err
	}

	sub.Submitter = domain.Submitter(submitter)
	sub.Action = domain.Action(action)
	sub.MovieID = domain.MovieID(movieID)
	sub.Phase = domain.Phase(phase)
	if reviewID != nil {
		sub.ReviewID = domain.ReviewID(*reviewID)
	}
	if rating != nil {
		sub.Rating = *rating
	}
	if txHash != nil {
		sub.TxHash = *txHash
	}
	if reason != nil {
		sub.Failure = &domain.Failure{Reason: domain.Reason(*reason)}
		if detail != nil {
			sub.Failure.Detail = *detail
		}
	}
	for _, p := range history {
		sub.History = append(sub.History, domain.Phase(p))
	}
	return sub, nil
}
