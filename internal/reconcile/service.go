// Package reconcile merges metadata with ledger state, gates writes, drives each write to a
// terminal phase and keeps per-submitter cached state in step with the ledger.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
	"github.com/Clark-Hu/reel-ledger/internal/ledger"
	"github.com/Clark-Hu/reel-ledger/internal/tmdb"
)

// Options wires the service.
type Options struct {
	Catalog    tmdb.Client
	Contract   *ledger.Contract
	Keyring    *ledger.Keyring
	Journal    Journal
	Likes      LikeStore
	Logger     logrus.FieldLogger
	Registerer prometheus.Registerer

	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
	SettleDelay    time.Duration
	SettleBackoff  time.Duration
	SettleRetries  int
	// FanOut bounds concurrent aggregate reads while browsing.
	FanOut int
}

// Service is the entry point for reads and for per-submitter sessions.
type Service struct {
	catalog  tmdb.Client
	contract *ledger.Contract
	keyring  *ledger.Keyring
	journal  Journal
	likes    LikeStore
	log      logrus.FieldLogger
	metrics  *metrics
	opts     Options

	mu       sync.Mutex
	sessions map[domain.Submitter]*Session
}

// New validates opts and fills defaults.
func New(opts Options) (*Service, error) {
	if opts.Catalog == nil {
		return nil, errors.New("reconcile: catalog is required")
	}
	if opts.Contract == nil {
		return nil, errors.New("reconcile: contract is required")
	}
	if opts.Keyring == nil {
		opts.Keyring = ledger.NewKeyring()
	}
	if opts.Journal == nil {
		opts.Journal = NewMemoryJournal()
	}
	if opts.Likes == nil {
		opts.Likes = NewMemoryLikes()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 90 * time.Second
	}
	if opts.ConfirmPoll <= 0 {
		opts.ConfirmPoll = 2 * time.Second
	}
	if opts.SettleBackoff <= 0 {
		opts.SettleBackoff = 500 * time.Millisecond
	}
	if opts.SettleRetries < 0 {
		opts.SettleRetries = 0
	}
	if opts.FanOut <= 0 {
		opts.FanOut = 8
	}

	return &Service{
		catalog:  opts.Catalog,
		contract: opts.Contract,
		keyring:  opts.Keyring,
		journal:  opts.Journal,
		likes:    opts.Likes,
		log:      opts.Logger.WithField("component", "reconcile"),
		metrics:  newMetrics(opts.Registerer),
		opts:     opts,
		sessions: make(map[domain.Submitter]*Session),
	}, nil
}

// Session returns the session for submitter. Sessions are retained only for submitters
// whose key the keyring holds, so the set is bounded by the keyring. Anyone else, including
// the disconnected (empty) submitter, gets a fresh throwaway session whose writes are all
// denied.
func (s *Service) Session(submitter domain.Submitter) *Session {
	if sess, ok := s.retained(submitter); ok {
		return sess
	}
	return newSession(s, submitter)
}

// retained returns submitter's session, creating it when the keyring holds the
// submitter's key. Read paths use it so that unknown addresses leave nothing behind.
func (s *Service) retained(submitter domain.Submitter) (*Session, bool) {
	if !submitter.Connected() {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[submitter]; ok {
		return sess, true
	}
	if _, held := s.keyring.Signer(submitter); !held {
		return nil, false
	}
	sess := newSession(s, submitter)
	s.sessions[submitter] = sess
	return sess, true
}

func (s *Service) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Disconnect discards submitter's unsigned intents and forgets its cached state.
func (s *Service) Disconnect(submitter domain.Submitter) {
	s.mu.Lock()
	sess, ok := s.sessions[submitter]
	delete(s.sessions, submitter)
	s.mu.Unlock()
	if ok {
		sess.Disconnect()
	}
}

// Close disconnects every session.
func (s *Service) Close() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[domain.Submitter]*Session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Disconnect()
	}
}

// Aggregate reads the ledger aggregate for one movie. When submitter has a session the
// value passes through its cache, so the count never moves backwards.
func (s *Service) Aggregate(ctx context.Context, id domain.MovieID, submitter domain.Submitter) (domain.AggregateRating, error) {
	agg, err := s.contract.AverageRating(ctx, id)
	if err != nil {
		return domain.AggregateRating{}, s.ledgerError(err)
	}
	if sess, ok := s.retained(submitter); ok {
		agg = sess.observeAggregate(id, agg)
	}
	return agg, nil
}

// catalogError maps metadata errors onto reasons.
func (s *Service) catalogError(err error) *Error {
	switch {
	case errors.Is(err, tmdb.ErrNotFound):
		return newError(domain.ReasonMovieNotFound, err)
	case errors.Is(err, tmdb.ErrMalformedResponse):
		return newError(domain.ReasonMalformedResponse, err)
	default:
		return newError(domain.ReasonConnectivity, err)
	}
}

// ledgerError maps read errors onto reasons.
func (s *Service) ledgerError(err error) *Error {
	switch {
	case errors.Is(err, ledger.ErrMalformedResponse):
		return newError(domain.ReasonMalformedResponse, err)
	case errors.Is(err, ledger.ErrNotFound):
		return newError(domain.ReasonReviewNotFound, err)
	default:
		return newError(domain.ReasonConnectivity, err)
	}
}

// record journals sub. Failures are logged, never surfaced.
func (s *Service) record(sub domain.SubmissionState) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.journal.Record(ctx, sub); err != nil {
		s.log.WithError(err).WithField("submission", sub.ID).Warn("journal write failed")
	}
}
