package ledger

import (
	"bytes"
	_ "embed"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed movie_reviews.abi.json
var movieReviewsABI []byte

// Contract method names. The schema is fixed by the deployed MovieReviews contract.
const (
	MethodAddRating         = "addRating"
	MethodAddReview         = "addReview"
	MethodLikeReview        = "likeReview"
	MethodUnlikeReview      = "unlikeReview"
	MethodGetAverageRating  = "getAverageRating"
	MethodGetMovieReviewIDs = "getMovieReviewIds"
	MethodGetReview         = "getReview"
	MethodGetReviews        = "getReviews"
	MethodUserHasReviewed   = "userHasReviewed"
	MethodUserHasRated      = "userHasRated"
	MethodGetTotalReviews   = "getTotalReviews"
)

// Contract event names.
const (
	EventRatingAdded   = "RatingAdded"
	EventReviewAdded   = "ReviewAdded"
	EventReviewLiked   = "ReviewLiked"
	EventReviewUnliked = "ReviewUnliked"
)

// ReviewTuple is the on-chain Review struct. Field order and names follow the ABI.
type ReviewTuple struct {
	User      common.Address `json:"user"`
	MovieId   *big.Int       `json:"movieId"`
	Text      string         `json:"text"`
	Rating    uint8          `json:"rating"`
	Timestamp *big.Int       `json:"timestamp"`
	Likes     *big.Int       `json:"likes"`
}

var (
	abiOnce   sync.Once
	parsedABI abi.ABI
	abiErr    error
)

// ABI returns the parsed MovieReviews interface.
func ABI() (abi.ABI, error) {
	abiOnce.Do(func() {
		parsedABI, abiErr = abi.JSON(bytes.NewReader(movieReviewsABI))
	})
	return parsedABI, abiErr
}

// MustABI is ABI for callers that cannot proceed without it.
func MustABI() abi.ABI {
	parsed, err := ABI()
	if err != nil {
		panic(err)
	}
	return parsed
}
