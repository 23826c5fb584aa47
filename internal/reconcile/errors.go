package reconcile

import (
	"fmt"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
)

// Kind groups reasons by how a caller should react.
type Kind string

const (
	KindConnectivity    Kind = "connectivity"
	KindValidation      Kind = "validation"
	KindEligibility     Kind = "eligibility"
	KindSigningRejected Kind = "signing_rejected"
	KindConfirmation    Kind = "confirmation"
	KindNotFound        Kind = "not_found"
)

// Error is the only error type that leaves the package.
type Error struct {
	Reason domain.Reason
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
	return string(e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Kind classifies the reason.
func (e *Error) Kind() Kind {
	return KindOf(e.Reason)
}

// Message is the human readable text for the reason.
func (e *Error) Message() string {
	return Message(e.Reason)
}

func newError(reason domain.Reason, err error) *Error {
	e := &Error{Reason: reason, Err: err}
	if err != nil {
		e.Detail = err.Error()
	}
	return e
}

func denied(reason domain.Reason, detail string) *Error {
	return &Error{Reason: reason, Detail: detail}
}

// KindOf classifies reason.
func KindOf(reason domain.Reason) Kind {
	switch reason {
	case domain.ReasonConnectivity, domain.ReasonMalformedResponse:
		return KindConnectivity
	case domain.ReasonTextTooLong, domain.ReasonMissingRating, domain.ReasonMissingText,
		domain.ReasonInvalidRating, domain.ReasonUnknownAction:
		return KindValidation
	case domain.ReasonSigningRejected:
		return KindSigningRejected
	case domain.ReasonConfirmationFailed, domain.ReasonConfirmationTimeout:
		return KindConfirmation
	case domain.ReasonMovieNotFound, domain.ReasonReviewNotFound, domain.ReasonSubmissionNotFound:
		return KindNotFound
	default:
		return KindEligibility
	}
}

var messages = map[domain.Reason]string{
	domain.ReasonNoIdentity:          "Connect a wallet to continue.",
	domain.ReasonAlreadyRated:        "You have already rated this movie.",
	domain.ReasonAlreadyReviewed:     "You have already reviewed this movie.",
	domain.ReasonAlreadyPending:      "A previous submission is still in progress.",
	domain.ReasonSelfLike:            "You cannot like your own review.",
	domain.ReasonAlreadyLiked:        "You already like this review.",
	domain.ReasonNotLiked:            "You have not liked this review.",
	domain.ReasonTextTooLong:         "Reviews are limited to 1000 characters.",
	domain.ReasonMissingRating:       "Pick a rating before submitting your review.",
	domain.ReasonMissingText:         "Write something before submitting your review.",
	domain.ReasonInvalidRating:       "Ratings go from 1 to 10.",
	domain.ReasonUnknownAction:       "That action is not supported.",
	domain.ReasonSigningRejected:     "The transaction was not signed.",
	domain.ReasonConfirmationFailed:  "The ledger rejected the transaction.",
	domain.ReasonConfirmationTimeout: "The transaction was not confirmed in time.",
	domain.ReasonMovieNotFound:       "Movie not found.",
	domain.ReasonReviewNotFound:      "Review not found.",
	domain.ReasonSubmissionNotFound:  "Submission not found.",
	domain.ReasonConnectivity:        "A service is unreachable. Refresh to try again.",
	domain.ReasonMalformedResponse:   "A service returned data we could not read.",
}

// Message returns the user-facing text for reason.
func Message(reason domain.Reason) string {
	if m, ok := messages[reason]; ok {
		return m
	}
	return "Something went wrong."
}
