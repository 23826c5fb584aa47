package domain

import (
	"time"

	"github.com/google/uuid"
)

// Action is a write intent a submitter can dispatch.
type Action string

const (
	ActionRate   Action = "rate"
	ActionReview Action = "review"
	ActionLike   Action = "like"
	ActionUnlike Action = "unlike"
)

// ActionClass groups actions that may not overlap for one submitter.
type ActionClass string

const (
	ClassRating ActionClass = "rating"
	ClassReview ActionClass = "review"
	ClassLike   ActionClass = "like"
)

// Class returns the action class used for duplicate-submission checks.
func (a Action) Class() ActionClass {
	switch a {
	case ActionRate:
		return ClassRating
	case ActionReview:
		return ClassReview
	default:
		return ClassLike
	}
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionRate, ActionReview, ActionLike, ActionUnlike:
		return true
	}
	return false
}

// Phase is the lifecycle position of one write.
type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseAwaitingSignature    Phase = "awaiting_signature"
	PhaseAwaitingConfirmation Phase = "awaiting_confirmation"
	PhaseSucceeded            Phase = "succeeded"
	PhaseFailed               Phase = "failed"
)

// Terminal reports whether no further transition will happen without acknowledgement.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Active reports whether a write is still outstanding.
func (p Phase) Active() bool {
	return p == PhaseAwaitingSignature || p == PhaseAwaitingConfirmation
}

// Reason is a stable machine-readable failure or denial code.
type Reason string

const (
	ReasonNoIdentity          Reason = "no_identity"
	ReasonAlreadyRated        Reason = "already_rated"
	ReasonAlreadyReviewed     Reason = "already_reviewed"
	ReasonAlreadyPending      Reason = "already_pending"
	ReasonSelfLike            Reason = "self_like"
	ReasonAlreadyLiked        Reason = "already_liked"
	ReasonNotLiked            Reason = "not_liked"
	ReasonTextTooLong         Reason = "text_too_long"
	ReasonMissingRating       Reason = "missing_rating"
	ReasonMissingText         Reason = "missing_text"
	ReasonInvalidRating       Reason = "invalid_rating"
	ReasonUnknownAction       Reason = "unknown_action"
	ReasonSigningRejected     Reason = "signing_rejected"
	ReasonConfirmationFailed  Reason = "confirmation_failed"
	ReasonConfirmationTimeout Reason = "confirmation_timeout"
	ReasonMovieNotFound       Reason = "movie_not_found"
	ReasonReviewNotFound      Reason = "review_not_found"
	ReasonSubmissionNotFound  Reason = "submission_not_found"
	ReasonConnectivity        Reason = "connectivity"
	ReasonMalformedResponse   Reason = "malformed_response"
)

// Failure describes why a submission ended in PhaseFailed.
type Failure struct {
	Reason Reason
	Detail string
}

// SubmissionState tracks one write from dispatch to acknowledgement.
type SubmissionState struct {
	ID        uuid.UUID
	Submitter Submitter
	Action    Action
	MovieID   MovieID
	ReviewID  ReviewID
	Rating    int
	Phase     Phase
	TxHash    string
	Failure   *Failure
	History   []Phase
	// Visible is set once a post-confirmation re-read observed the write.
	Visible   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
