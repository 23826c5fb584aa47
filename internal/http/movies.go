package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
	"github.com/Clark-Hu/reel-ledger/internal/reconcile"
)

type ratingRequest struct {
	Rating int `json:"rating"`
}

type reviewRequest struct {
	Text   string `json:"text"`
	Rating int    `json:"rating"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	res := s.svc.Search(r.Context(), strings.TrimSpace(r.URL.Query().Get("q")), page)
	s.respondJSON(w, http.StatusOK, toBrowseResponse(res))
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	category := domain.ListingCategory(chi.URLParam(r, "category"))
	if !category.Valid() {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "category must be one of trending, popular, top_rated")
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, toBrowseResponse(s.svc.Listing(r.Context(), category, page)))
}

func (s *Server) handleGetMovie(w http.ResponseWriter, r *http.Request) {
	id, err := parseMovieID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	submitter, ok := submitterFrom(r)
	if !ok {
		s.respondBadSubmitter(w)
		return
	}

	view, err := s.svc.View(r.Context(), id, submitter)
	if err != nil {
		s.respondReason(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toMovieViewResponse(view))
}

func (s *Server) handleGetRating(w http.ResponseWriter, r *http.Request) {
	id, err := parseMovieID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	submitter, ok := submitterFrom(r)
	if !ok {
		s.respondBadSubmitter(w)
		return
	}

	agg, err := s.svc.Aggregate(r.Context(), id, submitter)
	if err != nil {
		s.respondReason(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toAggregateResponse(agg))
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	id, err := parseMovieID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, toBrowseResponse(s.svc.Similar(r.Context(), id)))
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	id, err := parseMovieID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req ratingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	s.dispatch(w, r, reconcile.Intent{Action: domain.ActionRate, MovieID: id, Rating: req.Rating})
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	id, err := parseMovieID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req reviewRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	s.dispatch(w, r, reconcile.Intent{Action: domain.ActionReview, MovieID: id, Rating: req.Rating, Text: req.Text})
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	s.handleLikeAction(w, r, domain.ActionLike)
}

func (s *Server) handleUnlike(w http.ResponseWriter, r *http.Request) {
	s.handleLikeAction(w, r, domain.ActionUnlike)
}

func (s *Server) handleLikeAction(w http.ResponseWriter, r *http.Request, action domain.Action) {
	movieID, err := parseMovieID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	reviewID, err := strconv.ParseInt(chi.URLParam(r, "reviewId"), 10, 64)
	if err != nil || !domain.ReviewID(reviewID).Valid() {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid review id")
		return
	}
	s.dispatch(w, r, reconcile.Intent{Action: action, MovieID: movieID, ReviewID: domain.ReviewID(reviewID)})
}

// dispatch hands an intent to the caller's session and answers 202 with the submission.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, in reconcile.Intent) {
	submitter, ok := submitterFrom(r)
	if !ok {
		s.respondBadSubmitter(w)
		return
	}
	sub, err := s.svc.Session(submitter).Dispatch(r.Context(), in)
	if err != nil {
		s.respondReason(w, err)
		return
	}
	w.Header().Set("Location", "/submissions/"+sub.ID.String())
	s.respondJSON(w, http.StatusAccepted, toSubmissionResponse(sub))
}

func parseMovieID(r *http.Request) (domain.MovieID, error) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		return 0, fmt.Errorf("missing movie id")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid movie id")
	}
	return domain.MovieID(id), nil
}

func parsePage(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("page"))
	if raw == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 0, fmt.Errorf("invalid page value")
	}
	return page, nil
}
