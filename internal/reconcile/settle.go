package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
)

var errNotYetVisible = errors.New("reconcile: confirmed write not yet visible")

// settle re-reads the state a confirmed write affects until the change shows up. It waits
// SettleDelay first, then retries with exponential backoff up to SettleRetries times.
// Running out of budget is reported as not visible, never as an error.
func (s *Session) settle(ctx context.Context, t *tracked) bool {
	opts := s.svc.opts
	logger := s.log.WithFields(logrus.Fields{
		"submission": t.state.ID,
		"action":     t.intent.Action,
	})

	if opts.SettleDelay > 0 {
		timer := time.NewTimer(opts.SettleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}

	reads := 0
	backoff := retry.WithMaxRetries(uint64(opts.SettleRetries), retry.NewExponential(opts.SettleBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		reads++
		visible, err := s.reread(ctx, t)
		if err != nil {
			logger.WithError(err).Debug("settle read failed")
			return retry.RetryableError(err)
		}
		if !visible {
			return retry.RetryableError(errNotYetVisible)
		}
		return nil
	})
	s.svc.metrics.settleReads.Observe(float64(reads))
	if err != nil {
		s.svc.metrics.notVisible.Inc()
		logger.WithError(err).WithField("reads", reads).Info("write confirmed but not yet visible")
		return false
	}
	logger.WithField("reads", reads).Debug("write visible")
	return true
}

// reread refreshes the cached state for t's action and reports whether the write shows.
func (s *Session) reread(ctx context.Context, t *tracked) (bool, error) {
	in := t.intent
	c := s.svc.contract
	switch in.Action {
	case domain.ActionRate:
		agg, err := c.AverageRating(ctx, in.MovieID)
		if err != nil {
			return false, err
		}
		s.observeAggregate(in.MovieID, agg)
		return agg.Count >= t.baseline+1, nil

	case domain.ActionReview:
		ids, err := c.ReviewIDs(ctx, in.MovieID)
		if err != nil {
			return false, err
		}
		if agg, err := c.AverageRating(ctx, in.MovieID); err == nil {
			s.observeAggregate(in.MovieID, agg)
		}
		return int64(len(ids)) >= t.baseline+1, nil

	default:
		liked, err := c.LikedBy(ctx, s.submitter, []domain.ReviewID{in.ReviewID})
		if err != nil {
			return false, err
		}
		if liked[in.ReviewID] != (in.Action == domain.ActionLike) {
			return false, nil
		}
		s.mu.Lock()
		if mc, ok := s.movies[in.MovieID]; ok {
			delete(mc.liked, in.ReviewID)
		}
		s.mu.Unlock()
		return true, nil
	}
}
