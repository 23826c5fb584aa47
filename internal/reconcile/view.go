package reconcile

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
	"github.com/Clark-Hu/reel-ledger/internal/ledger"
)

// Notice records a degraded read. The view still renders; the failed part is empty.
type Notice struct {
	Source  string
	Reason  domain.Reason
	Message string
}

// ReviewView is a review as one submitter sees it.
type ReviewView struct {
	domain.Review
	LikedByMe bool
	Own       bool
	// Pending is set while the submitter's like or unlike of this review is in flight.
	Pending bool
}

// MovieView merges metadata with ledger state for one movie.
type MovieView struct {
	Movie       domain.Movie
	Credits     *domain.Credits
	Aggregate   domain.AggregateRating
	Reviews     []ReviewView
	Eligibility domain.Eligibility
	Submitter   domain.Submitter
	Notices     []Notice
}

type noticeList struct {
	mu    sync.Mutex
	items []Notice
}

func (n *noticeList) add(source string, reason domain.Reason) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, Notice{Source: source, Reason: reason, Message: Message(reason)})
}

func readReason(err error) domain.Reason {
	if errors.Is(err, ledger.ErrMalformedResponse) {
		return domain.ReasonMalformedResponse
	}
	return domain.ReasonConnectivity
}

// View builds the merged view of movie id. Metadata is read first; an unknown id fails
// with movie_not_found before any ledger read. Ledger and credits failures degrade to
// empty parts with a notice.
func (s *Service) View(ctx context.Context, id domain.MovieID, submitter domain.Submitter) (MovieView, error) {
	movie, err := s.catalog.Movie(ctx, id)
	if err != nil {
		return MovieView{}, s.catalogError(err)
	}

	view := MovieView{
		Movie:     *movie,
		Reviews:   []ReviewView{},
		Submitter: submitter,
	}
	notices := &noticeList{}
	connected := submitter.Connected()
	sess, retained := s.retained(submitter)
	logger := s.log.WithField("movie_id", id)
	degrade := func(source string, err error) {
		logger.WithError(err).WithField("source", source).Warn("read degraded")
		s.metrics.readErrors.WithLabelValues(source).Inc()
		notices.add(source, readReason(err))
	}

	var (
		reviews   []domain.Review
		aggOK     bool
		eligOK    bool
		freshElig domain.Eligibility
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		credits, err := s.catalog.Credits(gctx, id)
		if err != nil {
			degrade("credits", err)
			return nil
		}
		view.Credits = credits
		return nil
	})
	g.Go(func() error {
		agg, err := s.contract.AverageRating(gctx, id)
		if err != nil {
			degrade("aggregate", err)
			return nil
		}
		view.Aggregate = agg
		aggOK = true
		return nil
	})
	g.Go(func() error {
		ids, err := s.contract.ReviewIDs(gctx, id)
		if err != nil {
			degrade("reviews", err)
			return nil
		}
		batch, err := s.contract.Reviews(gctx, ids)
		if err != nil {
			degrade("reviews", err)
			return nil
		}
		reviews = batch
		return nil
	})
	if connected {
		g.Go(func() error {
			rated, err := s.contract.HasRated(gctx, id, submitter)
			if err != nil {
				degrade("eligibility", err)
				return nil
			}
			reviewed, err := s.contract.HasReviewed(gctx, id, submitter)
			if err != nil {
				degrade("eligibility", err)
				return nil
			}
			freshElig = domain.Eligibility{HasRated: rated, HasReviewed: reviewed}
			eligOK = true
			return nil
		})
	}
	_ = g.Wait()

	var (
		liked   map[domain.ReviewID]bool
		likedOK bool
	)
	if connected && len(reviews) > 0 {
		ids := make([]domain.ReviewID, 0, len(reviews))
		for _, r := range reviews {
			ids = append(ids, r.ID)
		}
		if retained {
			liked, err = sess.likedBy(ctx, id, ids)
		} else {
			liked, err = s.contract.LikedBy(ctx, submitter, ids)
		}
		if err == nil {
			likedOK = true
		} else {
			degrade("likes", err)
			if liked, err = s.likes.LikedReviews(ctx, submitter, ids); err != nil {
				logger.WithError(err).Warn("read like store failed")
				liked = nil
			}
		}
	}

	for _, r := range reviews {
		view.Reviews = append(view.Reviews, ReviewView{
			Review:    r,
			LikedByMe: liked[r.ID],
			Own:       connected && r.Author == submitter,
		})
	}
	if retained {
		sess.merge(&view, aggOK, eligOK, likedOK, freshElig)
	} else if eligOK {
		view.Eligibility = freshElig
	}
	view.Notices = notices.items
	return view, nil
}

// merge folds a freshly read view into the session cache and overlays the session's
// in-flight likes onto it. likedOK reports that LikedByMe came from the ledger's like
// history rather than the like store.
func (s *Session) merge(view *MovieView, aggOK, eligOK, likedOK bool, fresh domain.Eligibility) {
	id := view.Movie.ID
	if aggOK {
		view.Aggregate = s.observeAggregate(id, view.Aggregate)
	}
	if eligOK {
		view.Eligibility = s.observeEligibility(id, fresh)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	mc := s.cacheLocked(id)
	if !aggOK && mc.hasAggregate {
		view.Aggregate = mc.aggregate
	}
	if !eligOK {
		view.Eligibility = mc.eligibility
	}

	for i := range view.Reviews {
		rv := &view.Reviews[i]
		mc.authors[rv.ID] = rv.Author
		if confirmed, known := mc.liked[rv.ID]; known {
			if likedOK && confirmed == rv.LikedByMe {
				delete(mc.liked, rv.ID)
			}
			rv.LikedByMe = confirmed
		}
		projected, pending := mc.overlay[rv.ID]
		if !pending {
			continue
		}
		rv.Pending = true
		switch {
		case projected && !rv.LikedByMe:
			rv.LikeCount++
		case !projected && rv.LikedByMe && rv.LikeCount > 0:
			rv.LikeCount--
		}
		rv.LikedByMe = projected
	}
}
