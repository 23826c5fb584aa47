package ledger_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
	"github.com/Clark-Hu/reel-ledger/internal/ledger"
	"github.com/Clark-Hu/reel-ledger/internal/ledger/ledgersim"
)

func newContract(t *testing.T, opts ledgersim.Options) (*ledger.Contract, *ledgersim.Ledger) {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	opts.Logger = logger
	sim := ledgersim.New(opts)
	return ledger.NewContract(sim, logger), sim
}

func newSigner(t *testing.T) *ledger.KeySigner {
	t.Helper()
	s, err := ledger.GenerateKeySigner()
	require.NoError(t, err)
	return s
}

func TestContractAverageRatingEmpty(t *testing.T) {
	c, _ := newContract(t, ledgersim.Options{})
	agg, err := c.AverageRating(context.Background(), 550)
	require.NoError(t, err)
	assert.True(t, agg.Average.IsZero())
	assert.Zero(t, agg.Count)

	ids, err := c.ReviewIDs(context.Background(), 550)
	require.NoError(t, err)
	assert.Empty(t, ids)

	reviews, err := c.Reviews(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, reviews)
}

func TestContractRateAndAwait(t *testing.T) {
	ctx := context.Background()
	c, sim := newContract(t, ledgersim.Options{ConfirmPolls: 2})
	s := newSigner(t)
	who := ledger.SubmitterOf(s)

	h, err := c.Rate(ctx, s, 550, 8)
	require.NoError(t, err)

	rated, err := c.HasRated(ctx, 550, who)
	require.NoError(t, err)
	assert.False(t, rated, "write must not be visible before confirmation")

	require.NoError(t, c.Await(ctx, h, time.Second, time.Millisecond))
	assert.Equal(t, 1, sim.Sends())

	agg, err := c.AverageRating(ctx, 550)
	require.NoError(t, err)
	assert.True(t, agg.Average.Equal(decimal.NewFromInt(8)), agg.Average.String())
	assert.Equal(t, int64(1), agg.Count)

	rated, err = c.HasRated(ctx, 550, who)
	require.NoError(t, err)
	assert.True(t, rated)
	reviewed, err := c.HasReviewed(ctx, 550, who)
	require.NoError(t, err)
	assert.False(t, reviewed)
}

func TestContractAverageTruncatesToCents(t *testing.T) {
	c, sim := newContract(t, ledgersim.Options{})
	for i, r := range []int{7, 8, 8} {
		require.NoError(t, sim.SeedRating(13, common.BigToAddress(big.NewInt(int64(i+1))), r))
	}
	agg, err := c.AverageRating(context.Background(), 13)
	require.NoError(t, err)
	assert.Equal(t, "7.66", agg.Average.StringFixed(2))
	assert.Equal(t, int64(3), agg.Count)
}

func TestContractReviews(t *testing.T) {
	ctx := context.Background()
	c, sim := newContract(t, ledgersim.Options{})
	alice := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob := common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	first, err := sim.SeedReview(550, alice, "The first rule...", 9)
	require.NoError(t, err)
	second, err := sim.SeedReview(550, bob, "Overrated.", 4)
	require.NoError(t, err)
	require.NoError(t, sim.SeedLike(first, bob))

	ids, err := c.ReviewIDs(ctx, 550)
	require.NoError(t, err)
	assert.Equal(t, []domain.ReviewID{first, second}, ids)

	reviews, err := c.Reviews(ctx, ids)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, domain.NewSubmitter(alice.Hex()), reviews[0].Author)
	assert.Equal(t, int64(1), reviews[0].LikeCount)
	assert.Equal(t, 4, reviews[1].Rating)
	assert.Equal(t, domain.MovieID(550), reviews[1].MovieID)

	one, err := c.Review(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "Overrated.", one.Text)

	_, err = c.Review(ctx, 999)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	total, err := c.TotalReviews(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestContractAwaitReverted(t *testing.T) {
	ctx := context.Background()
	c, sim := newContract(t, ledgersim.Options{})
	s := newSigner(t)
	require.NoError(t, sim.SeedRating(550, s.Address(), 6))

	h, err := c.Rate(ctx, s, 550, 8)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Await(ctx, h, time.Second, time.Millisecond), ledger.ErrReverted)
}

func TestContractAwaitSelfLikeReverted(t *testing.T) {
	ctx := context.Background()
	c, sim := newContract(t, ledgersim.Options{})
	s := newSigner(t)
	id, err := sim.SeedReview(550, s.Address(), "mine", 7)
	require.NoError(t, err)

	h, err := c.Like(ctx, s, id)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Await(ctx, h, time.Second, time.Millisecond), ledger.ErrReverted)
}

func TestContractAwaitTimeout(t *testing.T) {
	ctx := context.Background()
	c, sim := newContract(t, ledgersim.Options{})
	sim.SetStalled(true)

	h, err := c.Rate(ctx, newSigner(t), 550, 8)
	require.NoError(t, err)
	err = c.Await(ctx, h, 30*time.Millisecond, 5*time.Millisecond)
	assert.ErrorIs(t, err, ledger.ErrConfirmationTimeout)
}

func TestContractAwaitParentCancelled(t *testing.T) {
	c, sim := newContract(t, ledgersim.Options{})
	sim.SetStalled(true)

	h, err := c.Rate(context.Background(), newSigner(t), 550, 8)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err = c.Await(ctx, h, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContractPromptRejection(t *testing.T) {
	c, sim := newContract(t, ledgersim.Options{})
	s := ledger.NewPromptSigner(newSigner(t), func(ctx context.Context, req ledger.SignRequest) (bool, error) {
		return false, nil
	})

	_, err := c.Rate(context.Background(), s, 550, 8)
	assert.ErrorIs(t, err, ledger.ErrSigningRejected)
	assert.Zero(t, sim.Sends())
}

func TestContractOffline(t *testing.T) {
	c, sim := newContract(t, ledgersim.Options{})
	sim.SetOffline(true)

	_, err := c.AverageRating(context.Background(), 550)
	assert.ErrorIs(t, err, ledger.ErrUnavailable)
	_, err = c.Rate(context.Background(), newSigner(t), 550, 8)
	assert.ErrorIs(t, err, ledger.ErrUnavailable)
}

func TestContractRejectsOutOfRangeRating(t *testing.T) {
	c, sim := newContract(t, ledgersim.Options{})
	_, err := c.Rate(context.Background(), newSigner(t), 550, 11)
	assert.Error(t, err)
	assert.Zero(t, sim.Sends())
}

// stubGateway answers reads with canned outputs.
type stubGateway struct {
	outputs map[string][]any
	events  map[string][]ledger.Event
}

func (g stubGateway) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	return g.outputs[method], nil
}

func (g stubGateway) Events(ctx context.Context, event string, query ...[]any) ([]ledger.Event, error) {
	return g.events[event], nil
}

func (g stubGateway) Send(ctx context.Context, signer ledger.Signer, method string, args ...any) (ledger.Handle, error) {
	return ledger.Handle{}, nil
}

func (g stubGateway) Status(ctx context.Context, h ledger.Handle) (ledger.TxStatus, error) {
	return ledger.TxIncluded, nil
}

func TestContractMalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		out  map[string][]any
		call func(c *ledger.Contract) error
	}{
		{
			name: "average above ten",
			out:  map[string][]any{ledger.MethodGetAverageRating: {big.NewInt(1001), big.NewInt(1)}},
			call: func(c *ledger.Contract) error {
				_, err := c.AverageRating(context.Background(), 1)
				return err
			},
		},
		{
			name: "average without ratings",
			out:  map[string][]any{ledger.MethodGetAverageRating: {big.NewInt(500), big.NewInt(0)}},
			call: func(c *ledger.Contract) error {
				_, err := c.AverageRating(context.Background(), 1)
				return err
			},
		},
		{
			name: "average wrong arity",
			out:  map[string][]any{ledger.MethodGetAverageRating: {big.NewInt(500)}},
			call: func(c *ledger.Contract) error {
				_, err := c.AverageRating(context.Background(), 1)
				return err
			},
		},
		{
			name: "review ids wrong type",
			out:  map[string][]any{ledger.MethodGetMovieReviewIDs: {"1,2,3"}},
			call: func(c *ledger.Contract) error {
				_, err := c.ReviewIDs(context.Background(), 1)
				return err
			},
		},
		{
			name: "review not a tuple",
			out:  map[string][]any{ledger.MethodGetReview: {42}},
			call: func(c *ledger.Contract) error {
				_, err := c.Review(context.Background(), 1)
				return err
			},
		},
		{
			name: "review rating out of range",
			out: map[string][]any{ledger.MethodGetReview: {ledger.ReviewTuple{
				User:      common.HexToAddress("0x01"),
				MovieId:   big.NewInt(1),
				Rating:    11,
				Timestamp: big.NewInt(1),
				Likes:     big.NewInt(0),
			}}},
			call: func(c *ledger.Contract) error {
				_, err := c.Review(context.Background(), 1)
				return err
			},
		},
		{
			name: "batch length mismatch",
			out:  map[string][]any{ledger.MethodGetReviews: {[]ledger.ReviewTuple{}}},
			call: func(c *ledger.Contract) error {
				_, err := c.Reviews(context.Background(), []domain.ReviewID{1})
				return err
			},
		},
		{
			name: "flag wrong type",
			out:  map[string][]any{ledger.MethodUserHasRated: {big.NewInt(1)}},
			call: func(c *ledger.Contract) error {
				_, err := c.HasRated(context.Background(), 1, "0x0000000000000000000000000000000000000001")
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ledger.NewContract(stubGateway{outputs: tt.out}, nil)
			assert.ErrorIs(t, tt.call(c), ledger.ErrMalformedResponse)
		})
	}
}

func TestContractLikedByReplaysEvents(t *testing.T) {
	ctx := context.Background()
	c, sim := newContract(t, ledgersim.Options{})
	author := newSigner(t)
	fan := newSigner(t)
	who := ledger.SubmitterOf(fan)

	first, err := sim.SeedReview(550, author.Address(), "Rule one.", 9)
	require.NoError(t, err)
	second, err := sim.SeedReview(680, author.Address(), "Royale with cheese.", 10)
	require.NoError(t, err)
	require.NoError(t, sim.SeedLike(first, fan.Address()))
	require.NoError(t, sim.SeedLike(second, fan.Address()))

	h, err := c.Unlike(ctx, fan, second)
	require.NoError(t, err)
	require.NoError(t, c.Await(ctx, h, time.Second, time.Millisecond))

	liked, err := c.LikedBy(ctx, who, []domain.ReviewID{first, second, 99})
	require.NoError(t, err)
	assert.Equal(t, map[domain.ReviewID]bool{first: true, second: false, 99: false}, liked)

	// Likes by someone else never leak into the answer.
	other, err := c.LikedBy(ctx, ledger.SubmitterOf(author), []domain.ReviewID{first})
	require.NoError(t, err)
	assert.False(t, other[first])
	assert.Positive(t, sim.Calls(ledger.EventReviewLiked))
}

func TestContractLikedByOrdersByEmission(t *testing.T) {
	user := "0x0000000000000000000000000000000000000001"
	gw := stubGateway{events: map[string][]ledger.Event{
		ledger.EventReviewLiked: {
			{Name: ledger.EventReviewLiked, Fields: map[string]any{"reviewId": big.NewInt(1)}, Block: 3},
			{Name: ledger.EventReviewLiked, Fields: map[string]any{"reviewId": big.NewInt(2)}, Block: 7, Index: 1},
		},
		ledger.EventReviewUnliked: {
			{Name: ledger.EventReviewUnliked, Fields: map[string]any{"reviewId": big.NewInt(1)}, Block: 5},
			{Name: ledger.EventReviewUnliked, Fields: map[string]any{"reviewId": big.NewInt(2)}, Block: 7},
		},
	}}
	c := ledger.NewContract(gw, nil)

	liked, err := c.LikedBy(context.Background(), domain.Submitter(user), []domain.ReviewID{1, 2})
	require.NoError(t, err)
	assert.False(t, liked[1])
	assert.True(t, liked[2])
}

func TestContractLikedByMalformedEvent(t *testing.T) {
	gw := stubGateway{events: map[string][]ledger.Event{
		ledger.EventReviewLiked: {{Name: ledger.EventReviewLiked, Fields: map[string]any{"reviewId": "one"}}},
	}}
	c := ledger.NewContract(gw, nil)
	_, err := c.LikedBy(context.Background(), "0x0000000000000000000000000000000000000001", []domain.ReviewID{1})
	assert.ErrorIs(t, err, ledger.ErrMalformedResponse)
}

func TestContractLikedByOffline(t *testing.T) {
	c, sim := newContract(t, ledgersim.Options{})
	sim.SetOffline(true)
	_, err := c.LikedBy(context.Background(), ledger.SubmitterOf(newSigner(t)), []domain.ReviewID{1})
	assert.ErrorIs(t, err, ledger.ErrUnavailable)
}
