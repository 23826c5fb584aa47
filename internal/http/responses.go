package httpserver

import (
	"time"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
	"github.com/Clark-Hu/reel-ledger/internal/reconcile"
	"github.com/Clark-Hu/reel-ledger/internal/tmdb"
)

type movieResponse struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Overview    string   `json:"overview,omitempty"`
	Tagline     string   `json:"tagline,omitempty"`
	ReleaseDate string   `json:"releaseDate,omitempty"`
	Year        int      `json:"year,omitempty"`
	Runtime     int      `json:"runtime,omitempty"`
	VoteAverage float64  `json:"voteAverage"`
	VoteCount   int64    `json:"voteCount"`
	Genres      []string `json:"genres,omitempty"`
	PosterURL   string   `json:"posterUrl"`
	BackdropURL string   `json:"backdropUrl"`
}

type ratingAggregateResponse struct {
	Average string `json:"average"`
	Count   int64  `json:"count"`
}

type castResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Character  string `json:"character,omitempty"`
	ProfileURL string `json:"profileUrl,omitempty"`
}

type reviewResponse struct {
	ID          int64     `json:"id"`
	Author      string    `json:"author"`
	AuthorShort string    `json:"authorShort"`
	Text        string    `json:"text"`
	Rating      int       `json:"rating"`
	CreatedAt   time.Time `json:"createdAt"`
	LikeCount   int64     `json:"likeCount"`
	LikedByMe   bool      `json:"likedByMe"`
	Own         bool      `json:"own"`
	Pending     bool      `json:"pending,omitempty"`
}

type eligibilityResponse struct {
	HasRated    bool `json:"hasRated"`
	HasReviewed bool `json:"hasReviewed"`
}

type noticeResponse struct {
	Source  string `json:"source"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type movieViewResponse struct {
	Movie       movieResponse           `json:"movie"`
	Cast        []castResponse          `json:"cast"`
	Rating      ratingAggregateResponse `json:"rating"`
	Reviews     []reviewResponse        `json:"reviews"`
	Eligibility *eligibilityResponse    `json:"eligibility,omitempty"`
	Notices     []noticeResponse        `json:"notices,omitempty"`
}

type movieSummaryResponse struct {
	Movie  movieResponse           `json:"movie"`
	Rating ratingAggregateResponse `json:"rating"`
}

type browseResponse struct {
	Items      []movieSummaryResponse `json:"items"`
	Page       int                    `json:"page,omitempty"`
	TotalPages int                    `json:"totalPages,omitempty"`
	Notices    []noticeResponse       `json:"notices,omitempty"`
}

type failureResponse struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type submissionResponse struct {
	ID        string           `json:"id"`
	Submitter string           `json:"submitter"`
	Action    string           `json:"action"`
	MovieID   int64            `json:"movieId"`
	ReviewID  int64            `json:"reviewId,omitempty"`
	Rating    int              `json:"rating,omitempty"`
	Phase     string           `json:"phase"`
	TxHash    string           `json:"txHash,omitempty"`
	Visible   bool             `json:"visible"`
	Failure   *failureResponse `json:"failure,omitempty"`
	History   []string         `json:"history"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func toMovieResponse(m domain.Movie) movieResponse {
	resp := movieResponse{
		ID:          int64(m.ID),
		Title:       m.Title,
		Overview:    m.Overview,
		Tagline:     m.Tagline,
		Year:        m.ReleaseYear(),
		Runtime:     m.Runtime,
		VoteAverage: m.VoteAverage,
		VoteCount:   m.VoteCount,
		PosterURL:   tmdb.PosterURL(m.PosterPath, ""),
		BackdropURL: tmdb.BackdropURL(m.BackdropPath, ""),
	}
	if m.ReleaseDate != nil {
		resp.ReleaseDate = m.ReleaseDate.Format("2006-01-02")
	}
	for _, g := range m.Genres {
		resp.Genres = append(resp.Genres, g.Name)
	}
	return resp
}

func toAggregateResponse(agg domain.AggregateRating) ratingAggregateResponse {
	return ratingAggregateResponse{
		Average: agg.Average.StringFixed(2),
		Count:   agg.Count,
	}
}

func toNotices(notices []reconcile.Notice) []noticeResponse {
	if len(notices) == 0 {
		return nil
	}
	out := make([]noticeResponse, 0, len(notices))
	for _, n := range notices {
		out = append(out, noticeResponse{Source: n.Source, Reason: string(n.Reason), Message: n.Message})
	}
	return out
}

func toMovieViewResponse(v reconcile.MovieView) movieViewResponse {
	resp := movieViewResponse{
		Movie:   toMovieResponse(v.Movie),
		Cast:    []castResponse{},
		Rating:  toAggregateResponse(v.Aggregate),
		Reviews: make([]reviewResponse, 0, len(v.Reviews)),
		Notices: toNotices(v.Notices),
	}
	if v.Credits != nil {
		for _, c := range v.Credits.Cast {
			resp.Cast = append(resp.Cast, castResponse{
				ID:         c.ID,
				Name:       c.Name,
				Character:  c.Character,
				ProfileURL: tmdb.ProfileURL(c.ProfilePath),
			})
		}
	}
	for _, r := range v.Reviews {
		resp.Reviews = append(resp.Reviews, reviewResponse{
			ID:          int64(r.ID),
			Author:      string(r.Author),
			AuthorShort: r.Author.Short(),
			Text:        r.Text,
			Rating:      r.Rating,
			CreatedAt:   r.CreatedAt,
			LikeCount:   r.LikeCount,
			LikedByMe:   r.LikedByMe,
			Own:         r.Own,
			Pending:     r.Pending,
		})
	}
	if v.Submitter.Connected() {
		resp.Eligibility = &eligibilityResponse{
			HasRated:    v.Eligibility.HasRated,
			HasReviewed: v.Eligibility.HasReviewed,
		}
	}
	return resp
}

func toBrowseResponse(res reconcile.BrowseResult) browseResponse {
	resp := browseResponse{
		Items:      make([]movieSummaryResponse, 0, len(res.Movies)),
		Page:       res.Page,
		TotalPages: res.TotalPages,
		Notices:    toNotices(res.Notices),
	}
	for _, m := range res.Movies {
		resp.Items = append(resp.Items, movieSummaryResponse{
			Movie:  toMovieResponse(m.Movie),
			Rating: toAggregateResponse(m.Aggregate),
		})
	}
	return resp
}

func toSubmissionResponse(sub domain.SubmissionState) submissionResponse {
	resp := submissionResponse{
		ID:        sub.ID.String(),
		Submitter: string(sub.Submitter),
		Action:    string(sub.Action),
		MovieID:   int64(sub.MovieID),
		ReviewID:  int64(sub.ReviewID),
		Rating:    sub.Rating,
		Phase:     string(sub.Phase),
		TxHash:    sub.TxHash,
		Visible:   sub.Visible,
		History:   make([]string, 0, len(sub.History)),
		CreatedAt: sub.CreatedAt,
		UpdatedAt: sub.UpdatedAt,
	}
	for _, p := range sub.History {
		resp.History = append(resp.History, string(p))
	}
	if sub.Failure != nil {
		resp.Failure = &failureResponse{
			Reason:  string(sub.Failure.Reason),
			Message: reconcile.Message(sub.Failure.Reason),
			Detail:  sub.Failure.Detail,
		}
	}
	return resp
}
