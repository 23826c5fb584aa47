package reconcile

import (
	"strings"
	"unicode/utf8"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
)

// Intent is a write a submitter asks for.
type Intent struct {
	Action   domain.Action
	MovieID  domain.MovieID
	ReviewID domain.ReviewID
	Rating   int
	Text     string
}

// GateState is the cached knowledge the gate decides on.
type GateState struct {
	Eligibility domain.Eligibility
	// Pending is set while a write of the same action class is outstanding.
	Pending      bool
	ReviewAuthor domain.Submitter
	Liked        bool
}

// Decision is the gate's verdict.
type Decision struct {
	Allowed bool
	Reason  domain.Reason
}

var allow = Decision{Allowed: true}

func deny(reason domain.Reason) Decision {
	return Decision{Reason: reason}
}

// ValidateInput checks an intent's own fields. It needs no ledger state.
func ValidateInput(in Intent) Decision {
	switch in.Action {
	case domain.ActionRate:
		if !domain.ValidRating(in.Rating) {
			return deny(domain.ReasonInvalidRating)
		}
	case domain.ActionReview:
		if utf8.RuneCountInString(in.Text) > domain.MaxReviewLength {
			return deny(domain.ReasonTextTooLong)
		}
		if strings.TrimSpace(in.Text) == "" {
			return deny(domain.ReasonMissingText)
		}
		if in.Rating == 0 {
			return deny(domain.ReasonMissingRating)
		}
		if !domain.ValidRating(in.Rating) {
			return deny(domain.ReasonInvalidRating)
		}
	case domain.ActionLike, domain.ActionUnlike:
		if !in.ReviewID.Valid() {
			return deny(domain.ReasonReviewNotFound)
		}
	default:
		return deny(domain.ReasonUnknownAction)
	}
	return allow
}

// Evaluate decides whether submitter may perform in. Checks run in a fixed order:
// identity, input, pending writes, then eligibility.
func Evaluate(submitter domain.Submitter, in Intent, st GateState) Decision {
	if !submitter.Connected() {
		return deny(domain.ReasonNoIdentity)
	}
	if d := ValidateInput(in); !d.Allowed {
		return d
	}
	if st.Pending {
		return deny(domain.ReasonAlreadyPending)
	}

	switch in.Action {
	case domain.ActionRate:
		if st.Eligibility.HasRated {
			return deny(domain.ReasonAlreadyRated)
		}
	case domain.ActionReview:
		if st.Eligibility.HasReviewed {
			return deny(domain.ReasonAlreadyReviewed)
		}
	case domain.ActionLike, domain.ActionUnlike:
		if st.ReviewAuthor == submitter {
			return deny(domain.ReasonSelfLike)
		}
		if in.Action == domain.ActionLike && st.Liked {
			return deny(domain.ReasonAlreadyLiked)
		}
		if in.Action == domain.ActionUnlike && !st.Liked {
			return deny(domain.ReasonNotLiked)
		}
	}
	return allow
}
