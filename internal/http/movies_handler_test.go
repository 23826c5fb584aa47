package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
	"github.com/Clark-Hu/reel-ledger/internal/repository"
)

func TestHandleGetMovie(t *testing.T) {
	ts := buildTestServer(t, nil, nil)
	other := "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	if _, err := ts.sim.SeedReview(550, ts.key.Address(), "Mine.", 8); err != nil {
		t.Fatalf("seed review: %v", err)
	}

	rec := ts.do(http.MethodGet, "/movies/550", other, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var view movieViewResponse
	decodeBody(t, rec, &view)
	if view.Movie.Title != "Fight Club" || view.Movie.Year != 1999 || view.Movie.ReleaseDate != "1999-10-15" {
		t.Fatalf("movie = %+v", view.Movie)
	}
	if !strings.HasPrefix(view.Movie.PosterURL, "https://image.tmdb.org/t/p/w500/") {
		t.Fatalf("poster = %s", view.Movie.PosterURL)
	}
	if view.Rating.Average != "0.00" || view.Rating.Count != 0 {
		t.Fatalf("rating = %+v, want 0.00/0", view.Rating)
	}
	if len(view.Cast) != 1 || view.Cast[0].Name != "Brad Pitt" {
		t.Fatalf("cast = %+v", view.Cast)
	}
	if len(view.Reviews) != 1 || view.Reviews[0].Own {
		t.Fatalf("reviews = %+v", view.Reviews)
	}
	if view.Eligibility == nil || view.Eligibility.HasRated {
		t.Fatalf("eligibility = %+v", view.Eligibility)
	}

	rec = ts.do(http.MethodGet, "/movies/550", ts.me, "")
	decodeBody(t, rec, &view)
	if !view.Reviews[0].Own || view.Reviews[0].AuthorShort != "0xf39f...2266" {
		t.Fatalf("own review = %+v", view.Reviews[0])
	}
	if view.Eligibility == nil || !view.Eligibility.HasReviewed {
		t.Fatalf("eligibility = %+v", view.Eligibility)
	}
}

func TestHandleGetMovie_Anonymous(t *testing.T) {
	ts := buildTestServer(t, nil, nil)
	rec := ts.do(http.MethodGet, "/movies/680", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var view movieViewResponse
	decodeBody(t, rec, &view)
	if view.Eligibility != nil {
		t.Fatalf("anonymous view carries eligibility: %+v", view.Eligibility)
	}
	if view.Movie.PosterURL != "/placeholder-movie.png" {
		t.Fatalf("poster = %s", view.Movie.PosterURL)
	}
}

func TestHandleGetMovie_Errors(t *testing.T) {
	ts := buildTestServer(t, nil, nil)

	expectError(t, ts.do(http.MethodGet, "/movies/999999999", "", ""), http.StatusNotFound, "movie_not_found")
	if ts.sim.Calls("") != 0 {
		t.Fatalf("ledger read for unknown movie")
	}

	for _, path := range []string{"/movies/abc", "/movies/-1", "/movies/0"} {
		if rec := ts.do(http.MethodGet, path, "", ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s status = %d, want 400", path, rec.Code)
		}
	}

	if rec := ts.do(http.MethodGet, "/movies/550", "not-an-address", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad submitter status = %d, want 400", rec.Code)
	}
}

func TestHandleGetMovie_LedgerOffline(t *testing.T) {
	ts := buildTestServer(t, nil, nil)
	ts.sim.SetOffline(true)

	rec := ts.do(http.MethodGet, "/movies/550", ts.me, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var view movieViewResponse
	decodeBody(t, rec, &view)
	if len(view.Notices) == 0 {
		t.Fatalf("expected notices for offline ledger")
	}
	if len(view.Reviews) != 0 || view.Rating.Count != 0 {
		t.Fatalf("offline view = %+v", view)
	}

	expectError(t, ts.do(http.MethodGet, "/movies/550/rating", "", ""), http.StatusBadGateway, "connectivity")
}

func TestHandleBrowse(t *testing.T) {
	ts := buildTestServer(t, nil, nil)
	if err := ts.sim.SeedRating(550, ts.key.Address(), 9); err != nil {
		t.Fatalf("seed rating: %v", err)
	}

	rec := ts.do(http.MethodGet, "/movies/search?q=fight", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d", rec.Code)
	}
	var res browseResponse
	decodeBody(t, rec, &res)
	if len(res.Items) != 1 || res.Items[0].Rating.Average != "9.00" || res.Items[0].Rating.Count != 1 {
		t.Fatalf("search = %+v", res)
	}

	rec = ts.do(http.MethodGet, "/movies/listings/top_rated?page=2", "", "")
	decodeBody(t, rec, &res)
	if res.Page != 2 || len(res.Items) != 2 {
		t.Fatalf("listing = %+v", res)
	}

	rec = ts.do(http.MethodGet, "/movies/550/similar", "", "")
	decodeBody(t, rec, &res)
	if len(res.Items) != 1 || res.Items[0].Movie.ID != 680 {
		t.Fatalf("similar = %+v", res)
	}

	if rec := ts.do(http.MethodGet, "/movies/listings/upcoming", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown category status = %d, want 400", rec.Code)
	}
	if rec := ts.do(http.MethodGet, "/movies/search?q=x&page=zero", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad page status = %d, want 400", rec.Code)
	}
}

func TestHandleSubmitRating(t *testing.T) {
	ts := buildTestServer(t, nil, nil)

	rec := ts.do(http.MethodPost, "/movies/550/ratings", ts.me, `{"rating":8}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}
	location := rec.Header().Get("Location")
	if !strings.HasPrefix(location, "/submissions/") {
		t.Fatalf("location = %q", location)
	}
	var sub submissionResponse
	decodeBody(t, rec, &sub)
	if sub.Phase != string(domain.PhaseAwaitingSignature) {
		t.Fatalf("phase = %s", sub.Phase)
	}

	final := ts.awaitPhase(t, location)
	if final.Phase != string(domain.PhaseSucceeded) || final.TxHash == "" {
		t.Fatalf("final = %+v", final)
	}
	want := []string{"idle", "awaiting_signature", "awaiting_confirmation", "succeeded"}
	if strings.Join(final.History, ",") != strings.Join(want, ",") {
		t.Fatalf("history = %v", final.History)
	}

	rec = ts.do(http.MethodGet, "/movies/550/rating", ts.me, "")
	var agg ratingAggregateResponse
	decodeBody(t, rec, &agg)
	if agg.Average != "8.00" || agg.Count != 1 {
		t.Fatalf("aggregate = %+v, want 8.00/1", agg)
	}

	expectError(t, ts.do(http.MethodPost, "/movies/550/ratings", ts.me, `{"rating":5}`), http.StatusConflict, "already_rated")
}

func TestHandleSubmitRating_Rejections(t *testing.T) {
	ts := buildTestServer(t, nil, nil)

	tests := []struct {
		name      string
		path      string
		submitter string
		body      string
		status    int
		reason    string
	}{
		{name: "no identity", path: "/movies/550/ratings", body: `{"rating":8}`, status: http.StatusUnauthorized, reason: "no_identity"},
		{name: "key not held", path: "/movies/550/ratings", submitter: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", body: `{"rating":8}`, status: http.StatusUnauthorized, reason: "no_identity"},
		{name: "out of range", path: "/movies/550/ratings", submitter: ts.me, body: `{"rating":11}`, status: http.StatusUnprocessableEntity, reason: "invalid_rating"},
		{name: "missing movie", path: "/movies/999999999/ratings", submitter: ts.me, body: `{"rating":8}`, status: http.StatusNotFound, reason: "movie_not_found"},
		{name: "review too long", path: "/movies/550/reviews", submitter: ts.me, body: `{"text":"` + strings.Repeat("a", 1001) + `","rating":7}`, status: http.StatusUnprocessableEntity, reason: "text_too_long"},
		{name: "review without rating", path: "/movies/550/reviews", submitter: ts.me, body: `{"text":"fine"}`, status: http.StatusUnprocessableEntity, reason: "missing_rating"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, ts.do(http.MethodPost, tt.path, tt.submitter, tt.body), tt.status, tt.reason)
		})
	}
	if ts.sim.Sends() != 0 {
		t.Fatalf("rejected writes reached the ledger")
	}
}

func TestHandleSubmitRating_InvalidPayload(t *testing.T) {
	ts := buildTestServer(t, nil, nil)

	for _, body := range []string{"invalid json", `{"rating":"eight"}`, `{"rating":8,"extra":true}`} {
		rec := ts.do(http.MethodPost, "/movies/550/ratings", ts.me, body)
		if rec.Code != http.StatusUnprocessableEntity && rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q status = %d, want 4xx", body, rec.Code)
		}
	}
	if rec := ts.do(http.MethodPost, "/movies/550/ratings", ts.me, ""); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty body status = %d, want 422", rec.Code)
	}
}

func TestHandleLikeLifecycle(t *testing.T) {
	ts := buildTestServer(t, nil, nil)
	own, err := ts.sim.SeedReview(550, ts.key.Address(), "Mine.", 8)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	ownPath := "/movies/550/reviews/" + strconv.FormatInt(int64(own), 10) + "/like"
	expectError(t, ts.do(http.MethodPost, ownPath, ts.me, ""), http.StatusConflict, "self_like")

	theirs, err := ts.sim.SeedReview(550, common.HexToAddress("0x00000000000000000000000000000000000000bb"), "Theirs.", 6)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	path := "/movies/550/reviews/" + strconv.FormatInt(int64(theirs), 10) + "/like"

	rec := ts.do(http.MethodPost, path, ts.me, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("like status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if final := ts.awaitPhase(t, rec.Header().Get("Location")); final.Phase != string(domain.PhaseSucceeded) {
		t.Fatalf("like = %+v", final)
	}
	expectError(t, ts.do(http.MethodPost, path, ts.me, ""), http.StatusConflict, "already_liked")

	rec = ts.do(http.MethodDelete, path, ts.me, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unlike status = %d", rec.Code)
	}
	if final := ts.awaitPhase(t, rec.Header().Get("Location")); final.Phase != string(domain.PhaseSucceeded) {
		t.Fatalf("unlike = %+v", final)
	}
	expectError(t, ts.do(http.MethodDelete, path, ts.me, ""), http.StatusConflict, "not_liked")
	expectError(t, ts.do(http.MethodPost, "/movies/550/reviews/77/like", ts.me, ""), http.StatusNotFound, "review_not_found")
}

func TestHandleLikeRejectsImpossibleReviewIDs(t *testing.T) {
	ts := buildTestServer(t, nil, nil)
	for _, id := range []string{"0", "-3", "abc"} {
		for _, method := range []string{http.MethodPost, http.MethodDelete} {
			rec := ts.do(method, "/movies/550/reviews/"+id+"/like", ts.me, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("%s review %s status = %d, want 400", method, id, rec.Code)
			}
		}
	}
	if ts.sim.Sends() != 0 || ts.sim.Calls("") != 0 {
		t.Fatalf("rejected review ids reached the ledger")
	}
}

func TestHandleUnlikeOfLikeMadeElsewhere(t *testing.T) {
	ts := buildTestServer(t, nil, nil)
	theirs, err := ts.sim.SeedReview(550, common.HexToAddress("0x00000000000000000000000000000000000000bb"), "Theirs.", 6)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := ts.sim.SeedLike(theirs, ts.key.Address()); err != nil {
		t.Fatalf("seed like: %v", err)
	}
	path := "/movies/550/reviews/" + strconv.FormatInt(int64(theirs), 10) + "/like"

	expectError(t, ts.do(http.MethodPost, path, ts.me, ""), http.StatusConflict, "already_liked")
	rec := ts.do(http.MethodDelete, path, ts.me, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unlike status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if final := ts.awaitPhase(t, rec.Header().Get("Location")); final.Phase != string(domain.PhaseSucceeded) {
		t.Fatalf("unlike = %+v", final)
	}
}

func TestHandleSubmitRating_PersistsJournal(t *testing.T) {
	pool, cleanup := newTestPool(t)
	t.Cleanup(cleanup)
	repo := repository.NewWithPool(pool)
	ts := buildTestServer(t, repo.Submissions, repo.Likes)

	rec := ts.do(http.MethodPost, "/movies/550/ratings", ts.me, `{"rating":7}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	final := ts.awaitPhase(t, rec.Header().Get("Location"))

	stored, err := repo.Submissions.ListBySubmitter(context.Background(), domain.NewSubmitter(ts.me), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 1 || stored[0].ID.String() != final.ID || stored[0].Phase != domain.PhaseSucceeded {
		t.Fatalf("journal = %+v", stored)
	}
}
