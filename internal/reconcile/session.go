package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
	"github.com/Clark-Hu/reel-ledger/internal/ledger"
	"github.com/Clark-Hu/reel-ledger/internal/tmdb"
)

// movieCache holds one submitter's view of one movie's ledger state.
type movieCache struct {
	eligibilityLoaded bool
	eligibility       domain.Eligibility
	hasAggregate      bool
	aggregate         domain.AggregateRating
	authors           map[domain.ReviewID]domain.Submitter
	// liked holds relations this session has confirmed or inferred that the ledger's
	// like history may not show yet. An entry is dropped once a ledger read agrees.
	liked map[domain.ReviewID]bool
	// overlay is the projected like state of reviews with a like or unlike in flight.
	overlay map[domain.ReviewID]bool
}

func newMovieCache() *movieCache {
	return &movieCache{
		authors: make(map[domain.ReviewID]domain.Submitter),
		liked:   make(map[domain.ReviewID]bool),
		overlay: make(map[domain.ReviewID]bool),
	}
}

type tracked struct {
	state    domain.SubmissionState
	intent   Intent
	baseline int64
	cancel   context.CancelFunc
	done     chan struct{}
}

func (t *tracked) snapshot() domain.SubmissionState {
	s := t.state
	s.History = append([]domain.Phase(nil), t.state.History...)
	if t.state.Failure != nil {
		f := *t.state.Failure
		s.Failure = &f
	}
	return s
}

// Session is one submitter's connection to the service. It owns the submitter's cached
// ledger state and at most one outstanding write per action class.
type Session struct {
	svc       *Service
	submitter domain.Submitter
	log       logrus.FieldLogger

	mu     sync.Mutex
	movies map[domain.MovieID]*movieCache
	active map[domain.ActionClass]uuid.UUID
	subs   map[uuid.UUID]*tracked
}

func newSession(svc *Service, submitter domain.Submitter) *Session {
	return &Session{
		svc:       svc,
		submitter: submitter,
		log:       svc.log.WithField("submitter", submitter.Short()),
		movies:    make(map[domain.MovieID]*movieCache),
		active:    make(map[domain.ActionClass]uuid.UUID),
		subs:      make(map[uuid.UUID]*tracked),
	}
}

// Submitter returns the session's identity.
func (s *Session) Submitter() domain.Submitter {
	return s.submitter
}

// cacheLocked returns the cache entry for id, creating it. Caller holds mu.
func (s *Session) cacheLocked(id domain.MovieID) *movieCache {
	mc, ok := s.movies[id]
	if !ok {
		mc = newMovieCache()
		s.movies[id] = mc
	}
	return mc
}

type prepared struct {
	movieID     domain.MovieID
	eligibility domain.Eligibility
	author      domain.Submitter
	liked       bool
	baseline    int64
}

// Dispatch gates in and, when allowed, starts its lifecycle in the background. The
// returned snapshot is in awaiting_signature.
func (s *Session) Dispatch(ctx context.Context, in Intent) (domain.SubmissionState, error) {
	if !s.submitter.Connected() {
		return s.deny(domain.ReasonNoIdentity, "")
	}
	signer, ok := s.svc.keyring.Signer(s.submitter)
	if !ok {
		return s.deny(domain.ReasonNoIdentity, "no signing key held for submitter")
	}
	if d := ValidateInput(in); !d.Allowed {
		return s.deny(d.Reason, "")
	}
	class := in.Action.Class()
	s.mu.Lock()
	_, pending := s.active[class]
	s.mu.Unlock()
	if pending {
		return s.deny(domain.ReasonAlreadyPending, "")
	}

	prep, err := s.prepare(ctx, in)
	if err != nil {
		var rerr *Error
		if errors.As(err, &rerr) {
			s.svc.metrics.denied.WithLabelValues(string(rerr.Reason)).Inc()
		}
		return domain.SubmissionState{}, err
	}
	in.MovieID = prep.movieID

	s.mu.Lock()
	mc := s.cacheLocked(in.MovieID)
	st := GateState{
		Eligibility: domain.Eligibility{
			HasRated:    prep.eligibility.HasRated || mc.eligibility.HasRated,
			HasReviewed: prep.eligibility.HasReviewed || mc.eligibility.HasReviewed,
		},
		ReviewAuthor: prep.author,
		Liked:        prep.liked,
	}
	_, st.Pending = s.active[class]
	if liked, known := mc.liked[in.ReviewID]; known {
		if liked == prep.liked {
			delete(mc.liked, in.ReviewID)
		}
		st.Liked = liked
	}
	if d := Evaluate(s.submitter, in, st); !d.Allowed {
		s.mu.Unlock()
		return s.deny(d.Reason, "")
	}

	now := time.Now().UTC()
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &tracked{
		state: domain.SubmissionState{
			ID:        uuid.New(),
			Submitter: s.submitter,
			Action:    in.Action,
			MovieID:   in.MovieID,
			ReviewID:  in.ReviewID,
			Rating:    in.Rating,
			Phase:     domain.PhaseAwaitingSignature,
			History:   []domain.Phase{domain.PhaseIdle, domain.PhaseAwaitingSignature},
			CreatedAt: now,
			UpdatedAt: now,
		},
		intent:   in,
		baseline: prep.baseline,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.active[class] = t.state.ID
	s.subs[t.state.ID] = t
	if in.Action == domain.ActionLike || in.Action == domain.ActionUnlike {
		mc.overlay[in.ReviewID] = in.Action == domain.ActionLike
	}
	snap := t.snapshot()
	s.mu.Unlock()

	s.svc.record(snap)
	s.svc.metrics.dispatched.WithLabelValues(string(in.Action)).Inc()
	s.svc.metrics.inFlight.Inc()
	s.log.WithFields(logrus.Fields{
		"submission": snap.ID,
		"action":     in.Action,
		"movie_id":   in.MovieID,
	}).Info("submission dispatched")

	go s.run(lctx, t, signer)
	return snap, nil
}

func (s *Session) deny(reason domain.Reason, detail string) (domain.SubmissionState, error) {
	s.svc.metrics.denied.WithLabelValues(string(reason)).Inc()
	return domain.SubmissionState{}, denied(reason, detail)
}

// prepare loads the ledger state the gate needs plus the visibility baseline for settle.
func (s *Session) prepare(ctx context.Context, in Intent) (prepared, error) {
	prep := prepared{movieID: in.MovieID}
	switch in.Action {
	case domain.ActionRate, domain.ActionReview:
		if _, err := s.svc.catalog.Movie(ctx, in.MovieID); err != nil {
			if errors.Is(err, tmdb.ErrNotFound) {
				return prep, newError(domain.ReasonMovieNotFound, err)
			}
			s.log.WithError(err).WithField("movie_id", in.MovieID).Warn("metadata lookup failed, continuing")
		}
		elig, err := s.eligibility(ctx, in.MovieID)
		if err != nil {
			return prep, s.svc.ledgerError(err)
		}
		prep.eligibility = elig

		if in.Action == domain.ActionRate {
			agg, err := s.svc.contract.AverageRating(ctx, in.MovieID)
			if err != nil {
				return prep, s.svc.ledgerError(err)
			}
			prep.baseline = s.observeAggregate(in.MovieID, agg).Count
		} else {
			ids, err := s.svc.contract.ReviewIDs(ctx, in.MovieID)
			if err != nil {
				return prep, s.svc.ledgerError(err)
			}
			prep.baseline = int64(len(ids))
		}

	case domain.ActionLike, domain.ActionUnlike:
		review, err := s.svc.contract.Review(ctx, in.ReviewID)
		if err != nil {
			return prep, s.svc.ledgerError(err)
		}
		if in.MovieID != 0 && review.MovieID != in.MovieID {
			return prep, denied(domain.ReasonReviewNotFound, "review belongs to another movie")
		}
		prep.movieID = review.MovieID
		prep.author = review.Author

		liked, err := s.likedBy(ctx, review.MovieID, []domain.ReviewID{in.ReviewID})
		if err != nil {
			return prep, s.svc.ledgerError(err)
		}
		prep.liked = liked[in.ReviewID]

		s.mu.Lock()
		s.cacheLocked(review.MovieID).authors[review.ID] = review.Author
		s.mu.Unlock()
	}
	return prep, nil
}

// likedBy reads the submitter's like relations from the ledger's like history and mirrors
// them into the like store. Relations pinned in the cache by a write the history may not
// show yet are left alone.
func (s *Session) likedBy(ctx context.Context, movie domain.MovieID, ids []domain.ReviewID) (map[domain.ReviewID]bool, error) {
	liked, err := s.svc.contract.LikedBy(ctx, s.submitter, ids)
	if err != nil {
		return nil, err
	}
	stored, err := s.svc.likes.LikedReviews(ctx, s.submitter, ids)
	if err != nil {
		s.log.WithError(err).Warn("read like store failed")
		return liked, nil
	}

	var stale []domain.ReviewID
	s.mu.Lock()
	mc := s.cacheLocked(movie)
	for _, id := range ids {
		if _, pinned := mc.liked[id]; pinned || stored[id] == liked[id] {
			continue
		}
		stale = append(stale, id)
	}
	s.mu.Unlock()
	for _, id := range stale {
		if err := s.svc.likes.SetLiked(ctx, s.submitter, movie, id, liked[id]); err != nil {
			s.log.WithError(err).WithField("review_id", id).Warn("persist like relation failed")
		}
	}
	return liked, nil
}

// eligibility returns the cached flags, reading both from the ledger on a miss.
func (s *Session) eligibility(ctx context.Context, movie domain.MovieID) (domain.Eligibility, error) {
	s.mu.Lock()
	mc := s.cacheLocked(movie)
	if mc.eligibilityLoaded {
		elig := mc.eligibility
		s.mu.Unlock()
		return elig, nil
	}
	s.mu.Unlock()

	var fresh domain.Eligibility
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.svc.contract.HasRated(gctx, movie, s.submitter)
		fresh.HasRated = v
		return err
	})
	g.Go(func() error {
		v, err := s.svc.contract.HasReviewed(gctx, movie, s.submitter)
		fresh.HasReviewed = v
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Eligibility{}, err
	}
	return s.observeEligibility(movie, fresh), nil
}

// observeEligibility merges freshly read flags into the cache. Both flags are write-once,
// so a set flag is never cleared by a lagging read.
func (s *Session) observeEligibility(movie domain.MovieID, fresh domain.Eligibility) domain.Eligibility {
	s.mu.Lock()
	defer s.mu.Unlock()
	mc := s.cacheLocked(movie)
	mc.eligibility.HasRated = mc.eligibility.HasRated || fresh.HasRated
	mc.eligibility.HasReviewed = mc.eligibility.HasReviewed || fresh.HasReviewed
	mc.eligibilityLoaded = true
	return mc.eligibility
}

// observeAggregate merges a freshly read aggregate into the cache and returns the value
// to show. A read reporting fewer ratings than already seen is lagging and is ignored.
func (s *Session) observeAggregate(movie domain.MovieID, agg domain.AggregateRating) domain.AggregateRating {
	s.mu.Lock()
	defer s.mu.Unlock()
	mc := s.cacheLocked(movie)
	if mc.hasAggregate && agg.Count < mc.aggregate.Count {
		return mc.aggregate
	}
	mc.aggregate = agg
	mc.hasAggregate = true
	return agg
}

func (s *Session) run(ctx context.Context, t *tracked, signer ledger.Signer) {
	defer close(t.done)
	defer t.cancel()
	in := t.intent
	opts := s.svc.opts

	h, err := s.send(ctx, signer, in)
	if err != nil {
		if errors.Is(err, ledger.ErrReverted) {
			s.refused(context.WithoutCancel(ctx), in)
		}
		s.fail(t, sendReason(err), err)
		return
	}
	s.transition(t, domain.PhaseAwaitingConfirmation, func(st *domain.SubmissionState) {
		st.TxHash = h.String()
	})

	// The write is out; discarding the intent no longer applies.
	bg := context.WithoutCancel(ctx)
	if err := s.svc.contract.Await(bg, h, opts.ConfirmTimeout, opts.ConfirmPoll); err != nil {
		if errors.Is(err, ledger.ErrReverted) {
			s.refused(bg, in)
		}
		s.fail(t, awaitReason(err), err)
		return
	}
	s.succeed(bg, t)

	visible := s.settle(bg, t)
	s.mu.Lock()
	t.state.Visible = visible
	t.state.UpdatedAt = time.Now().UTC()
	snap := t.snapshot()
	s.mu.Unlock()
	s.svc.record(snap)
}

func (s *Session) send(ctx context.Context, signer ledger.Signer, in Intent) (ledger.Handle, error) {
	c := s.svc.contract
	switch in.Action {
	case domain.ActionRate:
		return c.Rate(ctx, signer, in.MovieID, in.Rating)
	case domain.ActionReview:
		return c.AddReview(ctx, signer, in.MovieID, in.Text, in.Rating)
	case domain.ActionLike:
		return c.Like(ctx, signer, in.ReviewID)
	default:
		return c.Unlike(ctx, signer, in.ReviewID)
	}
}

func sendReason(err error) domain.Reason {
	switch {
	case errors.Is(err, ledger.ErrSigningRejected), errors.Is(err, context.Canceled):
		return domain.ReasonSigningRejected
	case errors.Is(err, ledger.ErrReverted):
		return domain.ReasonConfirmationFailed
	default:
		return domain.ReasonConnectivity
	}
}

func awaitReason(err error) domain.Reason {
	if errors.Is(err, ledger.ErrConfirmationTimeout) {
		return domain.ReasonConfirmationTimeout
	}
	return domain.ReasonConfirmationFailed
}

// transition moves t to phase. Reaching a terminal phase frees the action class and drops
// any optimistic overlay.
func (s *Session) transition(t *tracked, phase domain.Phase, mutate func(*domain.SubmissionState)) domain.SubmissionState {
	s.mu.Lock()
	t.state.Phase = phase
	t.state.History = append(t.state.History, phase)
	t.state.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(&t.state)
	}
	if phase.Terminal() {
		class := t.intent.Action.Class()
		if s.active[class] == t.state.ID {
			delete(s.active, class)
		}
		if mc, ok := s.movies[t.intent.MovieID]; ok {
			delete(mc.overlay, t.intent.ReviewID)
		}
	}
	snap := t.snapshot()
	s.mu.Unlock()

	s.svc.record(snap)
	if phase.Terminal() {
		s.svc.metrics.inFlight.Dec()
		s.svc.metrics.duration.WithLabelValues(string(snap.Action)).Observe(snap.UpdatedAt.Sub(snap.CreatedAt).Seconds())
	}
	return snap
}

func (s *Session) fail(t *tracked, reason domain.Reason, err error) {
	snap := s.transition(t, domain.PhaseFailed, func(st *domain.SubmissionState) {
		st.Failure = &domain.Failure{Reason: reason, Detail: err.Error()}
	})
	s.svc.metrics.completed.WithLabelValues(string(snap.Action), string(reason)).Inc()
	s.log.WithError(err).WithFields(logrus.Fields{
		"submission": snap.ID,
		"action":     snap.Action,
		"reason":     reason,
	}).Warn("submission failed")
}

// succeed applies the confirmed write to the cache before the phase changes, so a
// dispatch that observes the freed action class also observes the new flags.
func (s *Session) succeed(ctx context.Context, t *tracked) {
	in := t.intent
	s.mu.Lock()
	mc := s.cacheLocked(in.MovieID)
	switch in.Action {
	case domain.ActionRate:
		mc.eligibility.HasRated = true
	case domain.ActionReview:
		mc.eligibility.HasReviewed = true
	case domain.ActionLike:
		mc.liked[in.ReviewID] = true
	case domain.ActionUnlike:
		mc.liked[in.ReviewID] = false
	}
	s.mu.Unlock()

	if in.Action == domain.ActionLike || in.Action == domain.ActionUnlike {
		if err := s.svc.likes.SetLiked(ctx, s.submitter, in.MovieID, in.ReviewID, in.Action == domain.ActionLike); err != nil {
			s.log.WithError(err).WithField("review_id", in.ReviewID).Warn("persist like relation failed")
		}
	}

	snap := s.transition(t, domain.PhaseSucceeded, nil)
	s.svc.metrics.completed.WithLabelValues(string(snap.Action), string(domain.PhaseSucceeded)).Inc()
	s.log.WithFields(logrus.Fields{
		"submission": snap.ID,
		"action":     snap.Action,
		"tx":         snap.TxHash,
	}).Info("submission confirmed")
}

// refused corrects the like relation after the ledger reverted a like or unlike. Review
// existence and authorship are gated before sending, so a reverted like means the relation
// already exists and a reverted unlike means it does not.
func (s *Session) refused(ctx context.Context, in Intent) {
	if in.Action != domain.ActionLike && in.Action != domain.ActionUnlike {
		return
	}
	liked := in.Action == domain.ActionLike
	s.mu.Lock()
	s.cacheLocked(in.MovieID).liked[in.ReviewID] = liked
	s.mu.Unlock()
	if err := s.svc.likes.SetLiked(ctx, s.submitter, in.MovieID, in.ReviewID, liked); err != nil {
		s.log.WithError(err).WithField("review_id", in.ReviewID).Warn("persist like relation failed")
	}
	s.log.WithFields(logrus.Fields{
		"review_id": in.ReviewID,
		"liked":     liked,
	}).Info("like relation corrected from ledger refusal")
}

// Wait blocks until the submission's lifecycle, including the post-confirmation re-read,
// has finished or ctx ends.
func (s *Session) Wait(ctx context.Context, id uuid.UUID) (domain.SubmissionState, error) {
	t, err := s.lookup(id)
	if err != nil {
		return domain.SubmissionState{}, err
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		snap, _ := s.Submission(id)
		return snap, ctx.Err()
	}
	return s.snapshotOf(t), nil
}

// Submission returns the current state of a tracked submission.
func (s *Session) Submission(id uuid.UUID) (domain.SubmissionState, error) {
	t, err := s.lookup(id)
	if err != nil {
		return domain.SubmissionState{}, err
	}
	return s.snapshotOf(t), nil
}

// Submissions lists tracked submissions, oldest first.
func (s *Session) Submissions() []domain.SubmissionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SubmissionState, 0, len(s.subs))
	for _, t := range s.subs {
		out = append(out, t.snapshot())
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

// Acknowledge retires a terminal submission, returning it to idle.
func (s *Session) Acknowledge(id uuid.UUID) (domain.SubmissionState, error) {
	s.mu.Lock()
	t, ok := s.subs[id]
	if !ok {
		s.mu.Unlock()
		return domain.SubmissionState{}, denied(domain.ReasonSubmissionNotFound, id.String())
	}
	if !t.state.Phase.Terminal() {
		s.mu.Unlock()
		return domain.SubmissionState{}, denied(domain.ReasonAlreadyPending, "submission is still in flight")
	}
	delete(s.subs, id)
	t.state.Phase = domain.PhaseIdle
	t.state.History = append(t.state.History, domain.PhaseIdle)
	t.state.UpdatedAt = time.Now().UTC()
	snap := t.snapshot()
	s.mu.Unlock()

	s.svc.record(snap)
	return snap, nil
}

// Cancel discards a submission that is still awaiting signature and waits for it to
// settle into failed(signing_rejected). Once signed the write can no longer be discarded.
func (s *Session) Cancel(ctx context.Context, id uuid.UUID) (domain.SubmissionState, error) {
	s.mu.Lock()
	t, ok := s.subs[id]
	if !ok {
		s.mu.Unlock()
		return domain.SubmissionState{}, denied(domain.ReasonSubmissionNotFound, id.String())
	}
	switch t.state.Phase {
	case domain.PhaseAwaitingSignature:
		t.cancel()
	case domain.PhaseAwaitingConfirmation:
		s.mu.Unlock()
		return domain.SubmissionState{}, denied(domain.ReasonAlreadyPending, "transaction already submitted")
	}
	s.mu.Unlock()
	return s.Wait(ctx, id)
}

// Disconnect discards every intent still awaiting signature and drops cached state.
// Writes already submitted keep being watched.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.subs {
		if t.state.Phase == domain.PhaseAwaitingSignature {
			t.cancel()
		}
	}
	s.movies = make(map[domain.MovieID]*movieCache)
	s.log.Info("session disconnected")
}

func (s *Session) lookup(id uuid.UUID) (*tracked, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.subs[id]
	if !ok {
		return nil, denied(domain.ReasonSubmissionNotFound, id.String())
	}
	return t, nil
}

func (s *Session) snapshotOf(t *tracked) domain.SubmissionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.snapshot()
}
