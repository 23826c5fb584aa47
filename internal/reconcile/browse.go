package reconcile

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
	"github.com/Clark-Hu/reel-ledger/internal/tmdb"
)

// MovieSummary pairs a listed movie with its ledger aggregate.
type MovieSummary struct {
	Movie     domain.Movie
	Aggregate domain.AggregateRating
}

// BrowseResult is one page of movies. Failed reads leave it empty or with zero
// aggregates, and add a notice.
type BrowseResult struct {
	Movies     []MovieSummary
	Page       int
	TotalPages int
	Notices    []Notice
}

// Search runs a metadata search and attaches aggregates.
func (s *Service) Search(ctx context.Context, query string, page int) BrowseResult {
	res, err := s.catalog.Search(ctx, query, page)
	if err != nil {
		return s.emptyBrowse("search", err)
	}
	out := s.withAggregates(ctx, res.Results)
	out.Page = res.Page
	out.TotalPages = res.TotalPages
	return out
}

// Listing returns one page of a curated category.
func (s *Service) Listing(ctx context.Context, category domain.ListingCategory, page int) BrowseResult {
	movies, err := s.catalog.Listing(ctx, category, page)
	if err != nil {
		return s.emptyBrowse("listing", err)
	}
	out := s.withAggregates(ctx, movies)
	out.Page = page
	if out.Page < 1 {
		out.Page = 1
	}
	return out
}

// Similar returns movies related to id.
func (s *Service) Similar(ctx context.Context, id domain.MovieID) BrowseResult {
	movies, err := s.catalog.Similar(ctx, id)
	if err != nil {
		return s.emptyBrowse("similar", err)
	}
	return s.withAggregates(ctx, movies)
}

func (s *Service) emptyBrowse(source string, err error) BrowseResult {
	reason := domain.ReasonConnectivity
	if errors.Is(err, tmdb.ErrMalformedResponse) {
		reason = domain.ReasonMalformedResponse
	}
	s.log.WithError(err).WithField("source", source).Warn("metadata read degraded")
	s.metrics.readErrors.WithLabelValues(source).Inc()
	return BrowseResult{
		Movies:  []MovieSummary{},
		Notices: []Notice{{Source: source, Reason: reason, Message: Message(reason)}},
	}
}

// withAggregates reads each movie's aggregate with bounded concurrency. Failed reads
// leave a zero aggregate and a single notice.
func (s *Service) withAggregates(ctx context.Context, movies []domain.Movie) BrowseResult {
	out := BrowseResult{Movies: make([]MovieSummary, len(movies))}
	var (
		once    sync.Once
		failure error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.FanOut)
	for i, m := range movies {
		i, m := i, m
		out.Movies[i].Movie = m
		g.Go(func() error {
			agg, err := s.contract.AverageRating(gctx, m.ID)
			if err != nil {
				once.Do(func() { failure = err })
				return nil
			}
			out.Movies[i].Aggregate = agg
			return nil
		})
	}
	_ = g.Wait()

	if failure != nil {
		reason := readReason(failure)
		s.log.WithError(failure).Warn("aggregate reads degraded")
		s.metrics.readErrors.WithLabelValues("aggregate").Inc()
		out.Notices = append(out.Notices, Notice{Source: "aggregate", Reason: reason, Message: Message(reason)})
	}
	return out
}
