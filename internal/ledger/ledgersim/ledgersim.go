// Package ledgersim is an in-process MovieReviews ledger. It speaks the same ABI as the
// deployed contract, verifies transaction signatures, and can simulate confirmation delay,
// read-after-write lag and an unreachable endpoint.
package ledgersim

import (
	"context"
	"math/big"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
	"github.com/Clark-Hu/reel-ledger/internal/ledger"
)

// DefaultChainID is Celo Sepolia.
const DefaultChainID = 11142220

// ContractAddress is the address the simulated contract lives at.
var ContractAddress = common.HexToAddress("0x000000000000000000000000000000000000bEEF")

// Options tunes the simulation.
type Options struct {
	ChainID int64
	// ConfirmPolls is how many Status calls report pending before a write is executed.
	ConfirmPolls int
	// ReadLag is how many Call invocations an executed write stays invisible to reads.
	ReadLag int
	Logger  logrus.FieldLogger
	Now     func() time.Time
}

type txRecord struct {
	from   common.Address
	method string
	args   []any
	polls  int
	status ledger.TxStatus
}

type pendingEffect struct {
	visibleAt int
	effect    effect
}

// Ledger implements ledger.Gateway in memory.
type Ledger struct {
	mu        sync.Mutex
	abi       abi.ABI
	chainID   *big.Int
	txSigner  types.Signer
	opts      Options
	log       logrus.FieldLogger
	committed *state
	visible   *state
	backlog   []pendingEffect
	txs       map[common.Hash]*txRecord
	nonces    map[common.Address]uint64
	calls     map[string]int
	totalCall int
	sends     int
	offline   bool
	stalled   bool
}

// New constructs an empty ledger.
func New(opts Options) *Ledger {
	if opts.ChainID == 0 {
		opts.ChainID = DefaultChainID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	chainID := big.NewInt(opts.ChainID)
	return &Ledger{
		abi:       ledger.MustABI(),
		chainID:   chainID,
		txSigner:  types.LatestSignerForChainID(chainID),
		opts:      opts,
		log:       logger.WithField("component", "ledgersim"),
		committed: newState(),
		visible:   newState(),
		txs:       make(map[common.Hash]*txRecord),
		nonces:    make(map[common.Address]uint64),
		calls:     make(map[string]int),
	}
}

// Call implements ledger.Gateway.
func (l *Ledger) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return nil, errors.Wrapf(ledger.ErrUnavailable, "call %s", method)
	}
	l.totalCall++
	l.calls[method]++
	l.advance()

	m, ok := l.abi.Methods[method]
	if !ok || !m.IsConstant() {
		return nil, errors.Errorf("ledgersim: %q is not a read method", method)
	}
	data, err := l.abi.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}
	in, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s inputs", method)
	}

	values, err := l.read(method, in)
	if err != nil {
		return nil, err
	}
	raw, err := m.Outputs.Pack(values...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s outputs", method)
	}
	return l.abi.Unpack(method, raw)
}

// Events implements ledger.Gateway by replaying the visible event log. A query counts as a
// read for lag purposes.
func (l *Ledger) Events(ctx context.Context, event string, query ...[]any) ([]ledger.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return nil, errors.Wrapf(ledger.ErrUnavailable, "logs %s", event)
	}
	ev, ok := l.abi.Events[event]
	if !ok {
		return nil, errors.Errorf("ledgersim: unknown event %q", event)
	}
	var indexed []string
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in.Name)
		}
	}
	if len(query) > len(indexed) {
		return nil, errors.Errorf("ledgersim: %s has %d indexed arguments, got %d", event, len(indexed), len(query))
	}
	l.totalCall++
	l.calls[event]++
	l.advance()

	out := []ledger.Event{}
	for _, e := range l.visible.events {
		if e.Name != event || !matches(e.Fields, indexed, query) {
			continue
		}
		fields := make(map[string]any, len(e.Fields))
		for k, v := range e.Fields {
			fields[k] = v
		}
		e.Fields = fields
		out = append(out, e)
	}
	return out, nil
}

func matches(fields map[string]any, indexed []string, query [][]any) bool {
	for i, accepted := range query {
		if len(accepted) == 0 {
			continue
		}
		hit := false
		for _, want := range accepted {
			if sameValue(fields[indexed[i]], want) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func sameValue(a, b any) bool {
	if x, ok := a.(*big.Int); ok {
		y, ok := b.(*big.Int)
		return ok && y != nil && x.Cmp(y) == 0
	}
	return a == b
}

// Send implements ledger.Gateway. The write is only executed once Status observes it.
func (l *Ledger) Send(ctx context.Context, signer ledger.Signer, method string, args ...any) (ledger.Handle, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Handle{}, errors.Wrap(ledger.ErrSigningRejected, err.Error())
	}
	m, ok := l.abi.Methods[method]
	if !ok || m.IsConstant() {
		return ledger.Handle{}, errors.Errorf("ledgersim: %q is not a write method", method)
	}
	data, err := l.abi.Pack(method, args...)
	if err != nil {
		return ledger.Handle{}, errors.Wrapf(err, "pack %s", method)
	}
	in, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return ledger.Handle{}, errors.Wrapf(err, "unpack %s inputs", method)
	}

	l.mu.Lock()
	if l.offline {
		l.mu.Unlock()
		return ledger.Handle{}, errors.Wrapf(ledger.ErrUnavailable, "send %s", method)
	}
	from := signer.Address()
	nonce := l.nonces[from]
	l.nonces[from] = nonce + 1
	l.mu.Unlock()

	to := ContractAddress
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      300_000,
		GasPrice: big.NewInt(1),
		Data:     data,
	})
	// Signing may block on a prompt; the ledger lock is not held.
	signed, err := signer.SignTx(ctx, tx, l.chainID)
	if err != nil {
		return ledger.Handle{}, err
	}
	sender, err := types.Sender(l.txSigner, signed)
	if err != nil {
		return ledger.Handle{}, errors.Wrap(ledger.ErrSigningRejected, err.Error())
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sends++
	l.txs[signed.Hash()] = &txRecord{from: sender, method: method, args: in, status: ledger.TxPending}
	l.log.WithFields(logrus.Fields{
		"method": method,
		"from":   sender.Hex(),
		"tx":     signed.Hash().Hex(),
	}).Debug("transaction accepted")
	return ledger.Handle{Hash: signed.Hash()}, nil
}

// Status implements ledger.Gateway.
func (l *Ledger) Status(ctx context.Context, h ledger.Handle) (ledger.TxStatus, error) {
	if err := ctx.Err(); err != nil {
		return ledger.TxPending, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return ledger.TxPending, errors.Wrap(ledger.ErrUnavailable, "receipt")
	}
	rec, ok := l.txs[h.Hash]
	if !ok {
		return ledger.TxPending, errors.Wrapf(ledger.ErrNotFound, "transaction %s", h)
	}
	if rec.status != ledger.TxPending || l.stalled {
		return rec.status, nil
	}
	if rec.polls < l.opts.ConfirmPolls {
		rec.polls++
		return ledger.TxPending, nil
	}

	eff, err := l.committed.execute(rec.from, rec.method, rec.args, l.opts.Now())
	if err != nil {
		rec.status = ledger.TxFailed
		l.log.WithError(err).WithField("tx", h.String()).Debug("transaction reverted")
		return rec.status, nil
	}
	l.commit(eff)
	rec.status = ledger.TxIncluded
	return rec.status, nil
}

// commit applies eff to execution state and schedules it for readers. Caller holds mu.
func (l *Ledger) commit(eff effect) {
	l.committed.apply(eff)
	l.backlog = append(l.backlog, pendingEffect{visibleAt: l.totalCall + l.opts.ReadLag, effect: eff})
	l.advance()
}

// advance exposes every effect whose lag has elapsed. Caller holds mu.
func (l *Ledger) advance() {
	n := 0
	for _, p := range l.backlog {
		if p.visibleAt > l.totalCall {
			break
		}
		l.visible.apply(p.effect)
		n++
	}
	l.backlog = l.backlog[n:]
}

func (l *Ledger) read(method string, in []any) ([]any, error) {
	s := l.visible
	switch method {
	case ledger.MethodGetAverageRating:
		avg, count := s.average(in[0].(*big.Int).Int64())
		return []any{avg, count}, nil
	case ledger.MethodGetMovieReviewIDs:
		ids := s.movieReviews[in[0].(*big.Int).Int64()]
		out := make([]*big.Int, 0, len(ids))
		for _, id := range ids {
			out = append(out, big.NewInt(id))
		}
		return []any{out}, nil
	case ledger.MethodGetReview:
		return []any{s.tuple(in[0].(*big.Int).Int64())}, nil
	case ledger.MethodGetReviews:
		ids := in[0].([]*big.Int)
		out := make([]ledger.ReviewTuple, 0, len(ids))
		for _, id := range ids {
			out = append(out, s.tuple(id.Int64()))
		}
		return []any{out}, nil
	case ledger.MethodUserHasRated:
		_, ok := s.ratings[in[0].(*big.Int).Int64()][in[1].(common.Address)]
		return []any{ok}, nil
	case ledger.MethodUserHasReviewed:
		return []any{s.reviewed[in[0].(*big.Int).Int64()][in[1].(common.Address)]}, nil
	case ledger.MethodGetTotalReviews:
		return []any{big.NewInt(int64(len(s.reviews)))}, nil
	}
	return nil, errors.Errorf("ledgersim: unsupported method %q", method)
}

// SetOffline makes every call fail with ledger.ErrUnavailable.
func (l *Ledger) SetOffline(offline bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offline = offline
}

// SetStalled keeps every pending write pending.
func (l *Ledger) SetStalled(stalled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stalled = stalled
}

// Calls returns the number of reads served, across all methods when method is empty.
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if method == "" {
		return l.totalCall
	}
	return l.calls[method]
}

// Sends returns the number of writes accepted.
func (l *Ledger) Sends() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sends
}

// SeedRating records a rating directly, visible immediately.
func (l *Ledger) SeedRating(movie domain.MovieID, from common.Address, rating int) error {
	return l.seed(from, ledger.MethodAddRating, []any{big.NewInt(int64(movie)), uint8(rating)})
}

// SeedReview records a review directly and returns its id.
func (l *Ledger) SeedReview(movie domain.MovieID, from common.Address, text string, rating int) (domain.ReviewID, error) {
	l.mu.Lock()
	id := l.committed.nextReviewID
	l.mu.Unlock()
	if err := l.seed(from, ledger.MethodAddReview, []any{big.NewInt(int64(movie)), text, uint8(rating)}); err != nil {
		return 0, err
	}
	return domain.ReviewID(id), nil
}

// SeedLike records a like directly.
func (l *Ledger) SeedLike(review domain.ReviewID, from common.Address) error {
	return l.seed(from, ledger.MethodLikeReview, []any{big.NewInt(int64(review))})
}

func (l *Ledger) seed(from common.Address, method string, args []any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	eff, err := l.committed.execute(from, method, args, l.opts.Now())
	if err != nil {
		return err
	}
	l.committed.apply(eff)
	l.visible.apply(eff)
	return nil
}

type effectKind int

const (
	effectRate effectKind = iota
	effectReview
	effectLike
	effectUnlike
)

type effect struct {
	kind     effectKind
	from     common.Address
	movie    int64
	review   int64
	rating   uint8
	text     string
	issuedAt int64
}

type reviewRow struct {
	author common.Address
	movie  int64
	text   string
	rating uint8
	at     int64
	likes  int64
}

type state struct {
	ratings      map[int64]map[common.Address]uint8
	reviews      map[int64]*reviewRow
	movieReviews map[int64][]int64
	reviewed     map[int64]map[common.Address]bool
	likes        map[int64]map[common.Address]bool
	nextReviewID int64
	// events is the contract's log, one block per applied write.
	events []ledger.Event
}

func newState() *state {
	return &state{
		ratings:      make(map[int64]map[common.Address]uint8),
		reviews:      make(map[int64]*reviewRow),
		movieReviews: make(map[int64][]int64),
		reviewed:     make(map[int64]map[common.Address]bool),
		likes:        make(map[int64]map[common.Address]bool),
		nextReviewID: int64(domain.FirstReviewID),
	}
}

var (
	errAlreadyRated    = errors.New("ledgersim: already rated")
	errAlreadyReviewed = errors.New("ledgersim: already reviewed")
	errBadRating       = errors.New("ledgersim: rating must be 1-10")
	errBadText         = errors.New("ledgersim: review text must be 1-1000 characters")
	errNoReview        = errors.New("ledgersim: review does not exist")
	errOwnReview       = errors.New("ledgersim: cannot like own review")
	errAlreadyLiked    = errors.New("ledgersim: already liked")
	errNotLiked        = errors.New("ledgersim: not liked")
)

// execute checks a write against the contract rules and returns its effect.
func (s *state) execute(from common.Address, method string, args []any, now time.Time) (effect, error) {
	eff := effect{from: from, issuedAt: now.Unix()}
	switch method {
	case ledger.MethodAddRating:
		eff.kind = effectRate
		eff.movie = args[0].(*big.Int).Int64()
		eff.rating = args[1].(uint8)
		if eff.rating < domain.MinRating || eff.rating > domain.MaxRating {
			return eff, errBadRating
		}
		if _, ok := s.ratings[eff.movie][from]; ok {
			return eff, errAlreadyRated
		}
	case ledger.MethodAddReview:
		eff.kind = effectReview
		eff.movie = args[0].(*big.Int).Int64()
		eff.text = args[1].(string)
		eff.rating = args[2].(uint8)
		eff.review = s.nextReviewID
		if eff.rating < domain.MinRating || eff.rating > domain.MaxRating {
			return eff, errBadRating
		}
		if n := utf8.RuneCountInString(eff.text); n == 0 || n > domain.MaxReviewLength {
			return eff, errBadText
		}
		if s.reviewed[eff.movie][from] {
			return eff, errAlreadyReviewed
		}
	case ledger.MethodLikeReview, ledger.MethodUnlikeReview:
		eff.kind = effectLike
		if method == ledger.MethodUnlikeReview {
			eff.kind = effectUnlike
		}
		eff.review = args[0].(*big.Int).Int64()
		row, ok := s.reviews[eff.review]
		if !ok {
			return eff, errNoReview
		}
		if row.author == from {
			return eff, errOwnReview
		}
		liked := s.likes[eff.review][from]
		if eff.kind == effectLike && liked {
			return eff, errAlreadyLiked
		}
		if eff.kind == effectUnlike && !liked {
			return eff, errNotLiked
		}
	default:
		return eff, errors.Errorf("ledgersim: unsupported write %q", method)
	}
	return eff, nil
}

func (s *state) apply(e effect) {
	switch e.kind {
	case effectRate:
		if s.ratings[e.movie] == nil {
			s.ratings[e.movie] = make(map[common.Address]uint8)
		}
		s.ratings[e.movie][e.from] = e.rating
		s.emit(ledger.EventRatingAdded, map[string]any{
			"user":      e.from,
			"movieId":   big.NewInt(e.movie),
			"rating":    e.rating,
			"timestamp": big.NewInt(e.issuedAt),
		})
	case effectReview:
		s.reviews[e.review] = &reviewRow{author: e.from, movie: e.movie, text: e.text, rating: e.rating, at: e.issuedAt}
		s.movieReviews[e.movie] = append(s.movieReviews[e.movie], e.review)
		if s.reviewed[e.movie] == nil {
			s.reviewed[e.movie] = make(map[common.Address]bool)
		}
		s.reviewed[e.movie][e.from] = true
		if e.review >= s.nextReviewID {
			s.nextReviewID = e.review + 1
		}
		s.emit(ledger.EventReviewAdded, map[string]any{
			"user":      e.from,
			"movieId":   big.NewInt(e.movie),
			"reviewId":  big.NewInt(e.review),
			"rating":    e.rating,
			"timestamp": big.NewInt(e.issuedAt),
		})
	case effectLike:
		if s.likes[e.review] == nil {
			s.likes[e.review] = make(map[common.Address]bool)
		}
		s.likes[e.review][e.from] = true
		var total int64
		if row, ok := s.reviews[e.review]; ok {
			row.likes++
			total = row.likes
		}
		s.emit(ledger.EventReviewLiked, map[string]any{
			"user":       e.from,
			"reviewId":   big.NewInt(e.review),
			"totalLikes": big.NewInt(total),
		})
	case effectUnlike:
		delete(s.likes[e.review], e.from)
		var total int64
		if row, ok := s.reviews[e.review]; ok {
			if row.likes > 0 {
				row.likes--
			}
			total = row.likes
		}
		s.emit(ledger.EventReviewUnliked, map[string]any{
			"user":       e.from,
			"reviewId":   big.NewInt(e.review),
			"totalLikes": big.NewInt(total),
		})
	}
}

func (s *state) emit(name string, fields map[string]any) {
	s.events = append(s.events, ledger.Event{
		Name:   name,
		Fields: fields,
		Block:  uint64(len(s.events) + 1),
	})
}

// average returns the mean scaled by 100 and truncated, as the contract computes it.
func (s *state) average(movie int64) (*big.Int, *big.Int) {
	ratings := s.ratings[movie]
	if len(ratings) == 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	var sum int64
	for _, r := range ratings {
		sum += int64(r)
	}
	count := int64(len(ratings))
	return big.NewInt(sum * 100 / count), big.NewInt(count)
}

func (s *state) tuple(id int64) ledger.ReviewTuple {
	row, ok := s.reviews[id]
	if !ok {
		return ledger.ReviewTuple{MovieId: big.NewInt(0), Timestamp: big.NewInt(0), Likes: big.NewInt(0)}
	}
	return ledger.ReviewTuple{
		User:      row.author,
		MovieId:   big.NewInt(row.movie),
		Text:      row.text,
		Rating:    row.rating,
		Timestamp: big.NewInt(row.at),
		Likes:     big.NewInt(row.likes),
	}
}
