package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
	"github.com/Clark-Hu/reel-ledger/internal/reconcile"
)

// session resolves the caller's session. Submissions are private, so an identity is required.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*reconcile.Session, bool) {
	submitter, ok := submitterFrom(r)
	if !ok {
		s.respondBadSubmitter(w)
		return nil, false
	}
	if !submitter.Connected() {
		s.respondReason(w, &reconcile.Error{Reason: domain.ReasonNoIdentity})
		return nil, false
	}
	return s.svc.Session(submitter), true
}

func (s *Server) submissionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid submission id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	subs := sess.Submissions()
	resp := make([]submissionResponse, 0, len(subs))
	for _, sub := range subs {
		resp = append(resp, toSubmissionResponse(sub))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, ok := s.submissionID(w, r)
	if !ok {
		return
	}
	sub, err := sess.Submission(id)
	if err != nil {
		s.respondReason(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toSubmissionResponse(sub))
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, ok := s.submissionID(w, r)
	if !ok {
		return
	}
	sub, err := sess.Acknowledge(id)
	if err != nil {
		s.respondReason(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toSubmissionResponse(sub))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, ok := s.submissionID(w, r)
	if !ok {
		return
	}
	sub, err := sess.Cancel(r.Context(), id)
	if err != nil {
		s.respondReason(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toSubmissionResponse(sub))
}
