package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
)

// maxAverageScaled is 10.00 in the contract's two-decimal fixed point.
const maxAverageScaled = 1000

// Contract binds the MovieReviews schema onto a Gateway and validates every result.
type Contract struct {
	gw       Gateway
	validate *validator.Validate
	log      logrus.FieldLogger
}

// NewContract wraps gw.
func NewContract(gw Gateway, logger logrus.FieldLogger) *Contract {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Contract{
		gw:       gw,
		validate: validator.New(),
		log:      logger.WithField("component", "contract"),
	}
}

// Gateway exposes the underlying gateway.
func (c *Contract) Gateway() Gateway {
	return c.gw
}

// AverageRating reads the aggregate for a movie.
func (c *Contract) AverageRating(ctx context.Context, movie domain.MovieID) (domain.AggregateRating, error) {
	out, err := c.gw.Call(ctx, MethodGetAverageRating, movieKey(movie))
	if err != nil {
		return domain.AggregateRating{}, err
	}
	if len(out) != 2 {
		return domain.AggregateRating{}, malformed(MethodGetAverageRating, "want 2 outputs, got %d", len(out))
	}
	avg, ok1 := out[0].(*big.Int)
	count, ok2 := out[1].(*big.Int)
	if !ok1 || !ok2 || avg == nil || count == nil {
		return domain.AggregateRating{}, malformed(MethodGetAverageRating, "unexpected types %T, %T", out[0], out[1])
	}
	if !count.IsInt64() || count.Sign() < 0 {
		return domain.AggregateRating{}, malformed(MethodGetAverageRating, "count %s out of range", count)
	}
	if avg.Sign() < 0 || avg.Cmp(big.NewInt(maxAverageScaled)) > 0 {
		return domain.AggregateRating{}, malformed(MethodGetAverageRating, "average %s out of range", avg)
	}
	if count.Sign() == 0 && avg.Sign() != 0 {
		return domain.AggregateRating{}, malformed(MethodGetAverageRating, "average %s with zero count", avg)
	}
	return domain.AggregateRating{
		Average: decimal.NewFromBigInt(avg, -2),
		Count:   count.Int64(),
	}, nil
}

// ReviewIDs lists a movie's review ids in creation order.
func (c *Contract) ReviewIDs(ctx context.Context, movie domain.MovieID) ([]domain.ReviewID, error) {
	out, err := c.gw.Call(ctx, MethodGetMovieReviewIDs, movieKey(movie))
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, malformed(MethodGetMovieReviewIDs, "want 1 output, got %d", len(out))
	}
	raw, ok := out[0].([]*big.Int)
	if !ok {
		return nil, malformed(MethodGetMovieReviewIDs, "unexpected type %T", out[0])
	}
	ids := make([]domain.ReviewID, 0, len(raw))
	for _, id := range raw {
		if id == nil || !id.IsInt64() {
			return nil, malformed(MethodGetMovieReviewIDs, "review id %v out of range", id)
		}
		ids = append(ids, domain.ReviewID(id.Int64()))
	}
	return ids, nil
}

// Review reads one review. ErrNotFound when the id was never assigned.
func (c *Contract) Review(ctx context.Context, id domain.ReviewID) (domain.Review, error) {
	out, err := c.gw.Call(ctx, MethodGetReview, reviewKey(id))
	if err != nil {
		return domain.Review{}, err
	}
	if len(out) != 1 {
		return domain.Review{}, malformed(MethodGetReview, "want 1 output, got %d", len(out))
	}
	var tuple ReviewTuple
	if err := convert(out[0], &tuple); err != nil {
		return domain.Review{}, malformed(MethodGetReview, "%v", err)
	}
	if tuple.User == (common.Address{}) {
		return domain.Review{}, errors.Wrapf(ErrNotFound, "review %d", id)
	}
	return c.toReview(id, tuple)
}

// Reviews reads a batch of reviews, preserving the order of ids.
func (c *Contract) Reviews(ctx context.Context, ids []domain.ReviewID) ([]domain.Review, error) {
	if len(ids) == 0 {
		return []domain.Review{}, nil
	}
	keys := make([]*big.Int, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, reviewKey(id))
	}
	out, err := c.gw.Call(ctx, MethodGetReviews, keys)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, malformed(MethodGetReviews, "want 1 output, got %d", len(out))
	}
	var tuples []ReviewTuple
	if err := convert(out[0], &tuples); err != nil {
		return nil, malformed(MethodGetReviews, "%v", err)
	}
	if len(tuples) != len(ids) {
		return nil, malformed(MethodGetReviews, "asked for %d reviews, got %d", len(ids), len(tuples))
	}
	reviews := make([]domain.Review, 0, len(ids))
	for i, tuple := range tuples {
		review, err := c.toReview(ids[i], tuple)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, review)
	}
	return reviews, nil
}

// HasRated reports whether submitter has rated movie.
func (c *Contract) HasRated(ctx context.Context, movie domain.MovieID, submitter domain.Submitter) (bool, error) {
	return c.flag(ctx, MethodUserHasRated, movie, submitter)
}

// HasReviewed reports whether submitter has reviewed movie.
func (c *Contract) HasReviewed(ctx context.Context, movie domain.MovieID, submitter domain.Submitter) (bool, error) {
	return c.flag(ctx, MethodUserHasReviewed, movie, submitter)
}

func (c *Contract) flag(ctx context.Context, method string, movie domain.MovieID, submitter domain.Submitter) (bool, error) {
	if !common.IsHexAddress(string(submitter)) {
		return false, errors.Errorf("ledger: %q is not an address", submitter)
	}
	out, err := c.gw.Call(ctx, method, movieKey(movie), common.HexToAddress(string(submitter)))
	if err != nil {
		return false, err
	}
	if len(out) != 1 {
		return false, malformed(method, "want 1 output, got %d", len(out))
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, malformed(method, "unexpected type %T", out[0])
	}
	return v, nil
}

// LikedBy replays submitter's ReviewLiked and ReviewUnliked events for ids and reports
// which of those reviews it currently likes. A review with no events is not liked.
func (c *Contract) LikedBy(ctx context.Context, submitter domain.Submitter, ids []domain.ReviewID) (map[domain.ReviewID]bool, error) {
	out := make(map[domain.ReviewID]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	if !common.IsHexAddress(string(submitter)) {
		return nil, errors.Errorf("ledger: %q is not an address", submitter)
	}
	user := []any{common.HexToAddress(string(submitter))}
	keys := make([]any, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, reviewKey(id))
		out[id] = false
	}

	liked, err := c.gw.Events(ctx, EventReviewLiked, user, keys)
	if err != nil {
		return nil, err
	}
	unliked, err := c.gw.Events(ctx, EventReviewUnliked, user, keys)
	if err != nil {
		return nil, err
	}
	events := append(liked, unliked...)
	sort.SliceStable(events, func(a, b int) bool {
		return events[a].Before(events[b])
	})
	for _, ev := range events {
		raw, ok := ev.Fields["reviewId"].(*big.Int)
		if !ok || raw == nil || !raw.IsInt64() {
			return nil, malformed(ev.Name, "unexpected review id %v", ev.Fields["reviewId"])
		}
		id := domain.ReviewID(raw.Int64())
		if _, wanted := out[id]; wanted {
			out[id] = ev.Name == EventReviewLiked
		}
	}
	return out, nil
}

// TotalReviews reads the global review counter.
func (c *Contract) TotalReviews(ctx context.Context) (int64, error) {
	out, err := c.gw.Call(ctx, MethodGetTotalReviews)
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, malformed(MethodGetTotalReviews, "want 1 output, got %d", len(out))
	}
	n, ok := out[0].(*big.Int)
	if !ok || n == nil || !n.IsInt64() {
		return 0, malformed(MethodGetTotalReviews, "unexpected value %v", out[0])
	}
	return n.Int64(), nil
}

// Rate submits addRating.
func (c *Contract) Rate(ctx context.Context, signer Signer, movie domain.MovieID, rating int) (Handle, error) {
	if !domain.ValidRating(rating) {
		return Handle{}, errors.Errorf("ledger: rating %d out of range", rating)
	}
	return c.gw.Send(ctx, signer, MethodAddRating, movieKey(movie), uint8(rating))
}

// AddReview submits addReview.
func (c *Contract) AddReview(ctx context.Context, signer Signer, movie domain.MovieID, text string, rating int) (Handle, error) {
	if !domain.ValidRating(rating) {
		return Handle{}, errors.Errorf("ledger: rating %d out of range", rating)
	}
	return c.gw.Send(ctx, signer, MethodAddReview, movieKey(movie), text, uint8(rating))
}

// Like submits likeReview.
func (c *Contract) Like(ctx context.Context, signer Signer, review domain.ReviewID) (Handle, error) {
	return c.gw.Send(ctx, signer, MethodLikeReview, reviewKey(review))
}

// Unlike submits unlikeReview.
func (c *Contract) Unlike(ctx context.Context, signer Signer, review domain.ReviewID) (Handle, error) {
	return c.gw.Send(ctx, signer, MethodUnlikeReview, reviewKey(review))
}

// Await polls the handle until it is included or failed. It returns nil on inclusion,
// ErrReverted when the ledger rejected the write and ErrConfirmationTimeout when timeout
// elapses first. Status errors are treated as transient and polled through.
func (c *Contract) Await(ctx context.Context, h Handle, timeout, poll time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := c.log.WithField("tx", h.String())
	attempts := 0
	err := retry.Do(waitCtx, retry.NewConstant(poll), func(ctx context.Context) error {
		attempts++
		status, err := c.gw.Status(ctx, h)
		if err != nil {
			logger.WithError(err).Debug("receipt lookup failed")
			return retry.RetryableError(err)
		}
		switch status {
		case TxIncluded:
			return nil
		case TxFailed:
			return ErrReverted
		default:
			return retry.RetryableError(errPending)
		}
	})
	switch {
	case err == nil:
		logger.WithField("polls", attempts).Info("transaction confirmed")
		return nil
	case errors.Is(err, ErrReverted):
		logger.Warn("transaction reverted")
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Wrapf(ErrConfirmationTimeout, "%s after %s", h, timeout)
	default:
		return err
	}
}

var errPending = errors.New("ledger: transaction pending")

type reviewRecord struct {
	Text      string `validate:"max=4000"`
	Rating    int    `validate:"min=1,max=10"`
	Timestamp int64  `validate:"gte=0"`
	Likes     int64  `validate:"gte=0"`
}

func (c *Contract) toReview(id domain.ReviewID, t ReviewTuple) (domain.Review, error) {
	if t.MovieId == nil || t.Timestamp == nil || t.Likes == nil {
		return domain.Review{}, malformed(MethodGetReview, "review %d has nil fields", id)
	}
	if !t.MovieId.IsInt64() || !t.Timestamp.IsInt64() || !t.Likes.IsInt64() {
		return domain.Review{}, malformed(MethodGetReview, "review %d has out of range fields", id)
	}
	record := reviewRecord{
		Text:      t.Text,
		Rating:    int(t.Rating),
		Timestamp: t.Timestamp.Int64(),
		Likes:     t.Likes.Int64(),
	}
	if err := c.validate.Struct(record); err != nil {
		return domain.Review{}, malformed(MethodGetReview, "review %d: %v", id, err)
	}
	return domain.Review{
		ID:        id,
		Author:    domain.NewSubmitter(t.User.Hex()),
		MovieID:   domain.MovieID(t.MovieId.Int64()),
		Text:      t.Text,
		Rating:    record.Rating,
		CreatedAt: time.Unix(record.Timestamp, 0).UTC(),
		LikeCount: record.Likes,
	}, nil
}

// convert copies an ABI-decoded value into dst, turning the reflection panic of
// abi.ConvertType into an error.
func convert(src any, dst any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("convert %T: %v", src, r)
		}
	}()
	switch d := dst.(type) {
	case *ReviewTuple:
		*d = *abi.ConvertType(src, new(ReviewTuple)).(*ReviewTuple)
	case *[]ReviewTuple:
		*d = *abi.ConvertType(src, new([]ReviewTuple)).(*[]ReviewTuple)
	default:
		return fmt.Errorf("unsupported destination %T", dst)
	}
	return nil
}

func malformed(method, format string, args ...any) error {
	return errors.Wrapf(ErrMalformedResponse, "%s: %s", method, fmt.Sprintf(format, args...))
}

func movieKey(id domain.MovieID) *big.Int {
	return big.NewInt(int64(id))
}

func reviewKey(id domain.ReviewID) *big.Int {
	return big.NewInt(int64(id))
}
