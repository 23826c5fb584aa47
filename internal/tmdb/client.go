package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
)

var (
	// ErrNotFound is returned when upstream cannot find the requested movie.
	ErrNotFound = errors.New("tmdb: not found")
	// ErrMalformedResponse is returned when a payload does not match the expected schema.
	ErrMalformedResponse = errors.New("tmdb: malformed response")
)

const maxBodyBytes = 4 << 20

// Client defines the read-only metadata lookups the service depends on.
type Client interface {
	Search(ctx context.Context, query string, page int) (domain.SearchPage, error)
	Movie(ctx context.Context, id domain.MovieID) (*domain.Movie, error)
	Credits(ctx context.Context, id domain.MovieID) (*domain.Credits, error)
	Listing(ctx context.Context, category domain.ListingCategory, page int) ([]domain.Movie, error)
	Similar(ctx context.Context, id domain.MovieID) ([]domain.Movie, error)
}

// Options tunes the HTTP client.
type Options struct {
	Timeout    time.Duration
	RatePerSec float64
	CacheSize  int
	CacheTTL   time.Duration
	Logger     logrus.FieldLogger
}

// HTTPClient implements Client over the TMDB v3 REST API.
type HTTPClient struct {
	baseURL  *url.URL
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	cache    *expirable.LRU[string, []byte]
	group    singleflight.Group
	validate *validator.Validate
	log      logrus.FieldLogger
}

// NewHTTPClient constructs a new HTTP-backed metadata client.
func NewHTTPClient(baseURL, apiKey string, opts Options) (*HTTPClient, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse tmdb url")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	perSec := opts.RatePerSec
	if perSec <= 0 {
		perSec = 20
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}

	c := &HTTPClient{
		baseURL: parsed,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				ExpectContinueTimeout: 1 * time.Second,
				MaxIdleConnsPerHost:   8,
			},
		},
		limiter:  rate.NewLimiter(rate.Limit(perSec), burst),
		validate: validator.New(),
		log:      logger.WithField("component", "tmdb"),
	}
	if opts.CacheSize > 0 {
		c.cache = expirable.NewLRU[string, []byte](opts.CacheSize, nil, opts.CacheTTL)
	}
	return c, nil
}

// Search runs a title search. An empty query yields an empty page without a request.
func (c *HTTPClient) Search(ctx context.Context, query string, page int) (domain.SearchPage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.SearchPage{Results: []domain.Movie{}, Page: 1}, nil
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("page", strconv.Itoa(normalizePage(page)))
	params.Set("include_adult", "false")

	var payload pagePayload
	if err := c.get(ctx, "/search/movie", params, &payload); err != nil {
		return domain.SearchPage{}, err
	}
	return domain.SearchPage{
		Results:    c.convertPage(payload.Results),
		Page:       payload.Page,
		TotalPages: payload.TotalPages,
	}, nil
}

// Movie fetches a movie's details; ErrNotFound when upstream has no such id.
func (c *HTTPClient) Movie(ctx context.Context, id domain.MovieID) (*domain.Movie, error) {
	if id <= 0 {
		return nil, ErrNotFound
	}
	var payload moviePayload
	if err := c.get(ctx, fmt.Sprintf("/movie/%d", id), nil, &payload); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(payload); err != nil {
		return nil, errors.Wrapf(ErrMalformedResponse, "movie %d: %v", id, err)
	}
	movie := convertMovie(payload)
	return &movie, nil
}

// Credits fetches the billed cast of a movie.
func (c *HTTPClient) Credits(ctx context.Context, id domain.MovieID) (*domain.Credits, error) {
	if id <= 0 {
		return nil, ErrNotFound
	}
	var payload creditsPayload
	if err := c.get(ctx, fmt.Sprintf("/movie/%d/credits", id), nil, &payload); err != nil {
		return nil, err
	}
	credits := &domain.Credits{Cast: make([]domain.CastMember, 0, len(payload.Cast))}
	for _, member := range payload.Cast {
		if err := c.validate.Struct(member); err != nil {
			c.log.WithError(err).WithField("movie_id", id).Debug("dropping malformed cast entry")
			continue
		}
		credits.Cast = append(credits.Cast, domain.CastMember{
			ID:          member.ID,
			Name:        member.Name,
			Character:   member.Character,
			ProfilePath: deref(member.ProfilePath),
		})
	}
	return credits, nil
}

// Listing fetches one page of a curated list. Trending uses the weekly window.
func (c *HTTPClient) Listing(ctx context.Context, category domain.ListingCategory, page int) ([]domain.Movie, error) {
	var path string
	switch category {
	case domain.ListingTrending:
		path = "/trending/movie/week"
	case domain.ListingPopular:
		path = "/movie/popular"
	case domain.ListingTopRated:
		path = "/movie/top_rated"
	default:
		return nil, errors.Errorf("tmdb: unknown listing %q", category)
	}
	params := url.Values{}
	params.Set("page", strconv.Itoa(normalizePage(page)))

	var payload pagePayload
	if err := c.get(ctx, path, params, &payload); err != nil {
		return nil, err
	}
	return c.convertPage(payload.Results), nil
}

// Similar fetches movies related to id.
func (c *HTTPClient) Similar(ctx context.Context, id domain.MovieID) ([]domain.Movie, error) {
	if id <= 0 {
		return nil, ErrNotFound
	}
	var payload pagePayload
	if err := c.get(ctx, fmt.Sprintf("/movie/%d/similar", id), nil, &payload); err != nil {
		return nil, err
	}
	return c.convertPage(payload.Results), nil
}

// get decodes the JSON body of path into out. Identical concurrent requests share one
// upstream call, and successful bodies are cached.
func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	key := path + "?" + params.Encode()

	if c.cache != nil {
		if body, ok := c.cache.Get(key); ok {
			return decode(path, body, out)
		}
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		body, err := c.fetch(ctx, path, params)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			c.cache.Add(key, body)
		}
		return body, nil
	})
	if err != nil {
		return err
	}
	if shared {
		c.log.WithField("path", path).Debug("shared in-flight request")
	}
	return decode(path, v.([]byte), out)
}

func (c *HTTPClient) fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "tmdb rate limit")
	}

	query := url.Values{}
	for k, vs := range params {
		query[k] = vs
	}
	query.Set("api_key", c.apiKey)
	endpoint := *c.baseURL
	endpoint.Path = c.baseURL.Path + path
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "tmdb GET %s", path)
	}
	defer resp.Body.Close()

	logger := c.log.WithFields(logrus.Fields{
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(started).String(),
	})

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, errors.Wrapf(err, "read tmdb response %s", path)
		}
		logger.Debug("tmdb request")
		return body, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		logger.Warn("tmdb: unexpected status")
		return nil, errors.Errorf("tmdb: upstream returned %d", resp.StatusCode)
	}
}

func decode(path string, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(ErrMalformedResponse, "decode %s: %v", path, err)
	}
	return nil
}

// convertPage keeps the valid records of a result page and drops the rest.
func (c *HTTPClient) convertPage(results []moviePayload) []domain.Movie {
	movies := make([]domain.Movie, 0, len(results))
	for _, item := range results {
		if err := c.validate.Struct(item); err != nil {
			c.log.WithError(err).WithField("movie_id", item.ID).Debug("dropping malformed result")
			continue
		}
		movies = append(movies, convertMovie(item))
	}
	return movies
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	if page > 500 {
		return 500
	}
	return page
}

type moviePayload struct {
	ID           int64          `json:"id" validate:"gt=0"`
	Title        string         `json:"title" validate:"required"`
	Overview     string         `json:"overview"`
	Tagline      string         `json:"tagline"`
	PosterPath   *string        `json:"poster_path"`
	BackdropPath *string        `json:"backdrop_path"`
	ReleaseDate  string         `json:"release_date"`
	VoteAverage  float64        `json:"vote_average" validate:"gte=0,lte=10"`
	VoteCount    int64          `json:"vote_count" validate:"gte=0"`
	Runtime      int            `json:"runtime" validate:"gte=0"`
	GenreIDs     []int64        `json:"genre_ids"`
	Genres       []genrePayload `json:"genres" validate:"dive"`
}

type genrePayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name" validate:"required"`
}

type pagePayload struct {
	Page         int            `json:"page"`
	Results      []moviePayload `json:"results"`
	TotalPages   int            `json:"total_pages"`
	TotalResults int            `json:"total_results"`
}

type creditsPayload struct {
	ID   int64         `json:"id"`
	Cast []castPayload `json:"cast"`
}

type castPayload struct {
	ID          int64   `json:"id" validate:"gt=0"`
	Name        string  `json:"name" validate:"required"`
	Character   string  `json:"character"`
	ProfilePath *string `json:"profile_path"`
}

func convertMovie(payload moviePayload) domain.Movie {
	movie := domain.Movie{
		ID:           domain.MovieID(payload.ID),
		Title:        payload.Title,
		Overview:     payload.Overview,
		Tagline:      payload.Tagline,
		PosterPath:   deref(payload.PosterPath),
		BackdropPath: deref(payload.BackdropPath),
		VoteAverage:  payload.VoteAverage,
		VoteCount:    payload.VoteCount,
		Runtime:      payload.Runtime,
		GenreIDs:     payload.GenreIDs,
	}
	if payload.ReleaseDate != "" {
		if t, err := time.Parse("2006-01-02", payload.ReleaseDate); err == nil {
			movie.ReleaseDate = &t
		}
	}
	for _, g := range payload.Genres {
		movie.Genres = append(movie.Genres, domain.Genre{ID: g.ID, Name: g.Name})
	}
	return movie
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
