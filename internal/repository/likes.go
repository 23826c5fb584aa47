package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
)

// LikesRepository stores which reviews a submitter has liked. The ledger does not expose
// this per submitter, so it is kept locally once a like is confirmed.
type LikesRepository struct {
	pool *pgxpool.Pool
}

// SetLiked records or removes the like relation.
func (r *LikesRepository) SetLiked(ctx context.Context, submitter domain.Submitter, movieID domain.MovieID, reviewID domain.ReviewID, liked bool) error {
	if liked {
		const query = `
            INSERT INTO review_likes (submitter, review_id, movie_id)
            VALUES ($1,$2,$3)
            ON CONFLICT (submitter, review_id) DO NOTHING
        `
		if _, err := r.pool.Exec(ctx, query, string(submitter), int64(reviewID), int64(movieID)); err != nil {
			return fmt.Errorf("insert like: %w", err)
		}
		return nil
	}

	const query = `DELETE FROM review_likes WHERE submitter = $1 AND review_id = $2`
	if _, err := r.pool.Exec(ctx, query, string(submitter), int64(reviewID)); err != nil {
		return fmt.Errorf("delete like: %w", err)
	}
	return nil
}

// LikedReviews returns the subset of ids the submitter has liked.
func (r *LikesRepository) LikedReviews(ctx context.Context, submitter domain.Submitter, ids []domain.ReviewID) (map[domain.ReviewID]bool, error) {
	liked := make(map[domain.ReviewID]bool)
	if len(ids) == 0 {
		return liked, nil
	}
	raw := make([]int64, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, int64(id))
	}

	const query = `SELECT review_id FROM review_likes WHERE submitter = $1 AND review_id = ANY($2)`
	rows, err := r.pool.Query(ctx, query, string(submitter), raw)
	if err != nil {
		return nil, fmt.Errorf("query likes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		liked[domain.ReviewID(id)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return liked, nil
}
