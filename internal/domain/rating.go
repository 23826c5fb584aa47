package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MinRating and MaxRating bound every rating the ledger accepts.
	MinRating = 1
	MaxRating = 10
	// MaxReviewLength is counted in characters, not bytes.
	MaxReviewLength = 1000
)

// Submitter is a wallet address in lower-case 0x-hex form. The empty value means not connected.
type Submitter string

// NewSubmitter normalizes an address string. It does not validate the checksum.
func NewSubmitter(raw string) Submitter {
	return Submitter(strings.ToLower(strings.TrimSpace(raw)))
}

// Connected reports whether an identity is present.
func (s Submitter) Connected() bool {
	return s != ""
}

// Short renders the address the way review cards show it (0x1234...abcd).
func (s Submitter) Short() string {
	if len(s) < 10 {
		return string(s)
	}
	return string(s[:6]) + "..." + string(s[len(s)-4:])
}

// ValidRating reports whether r is within the accepted rating scale.
func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}

// AggregateRating is the ledger-computed average and count for one movie.
type AggregateRating struct {
	Average decimal.Decimal
	Count   int64
}

// ReviewID is assigned by the ledger when a review is created.
type ReviewID int64

// FirstReviewID is the id of the ledger's first review. Ids count up from it.
const FirstReviewID ReviewID = 1

// Valid reports whether the ledger could have assigned id.
func (id ReviewID) Valid() bool {
	return id >= FirstReviewID
}

// Review is immutable once created, except for LikeCount.
type Review struct {
	ID        ReviewID
	Author    Submitter
	MovieID   MovieID
	Text      string
	Rating    int
	CreatedAt time.Time
	LikeCount int64
}

// Eligibility caches the ledger's per-submitter flags for one movie.
type Eligibility struct {
	HasRated    bool
	HasReviewed bool
}
