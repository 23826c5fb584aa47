package tmdb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler, cacheSize int) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger, _ := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	client, err := NewHTTPClient(srv.URL+"/3", "test-key", Options{
		Timeout:    2 * time.Second,
		RatePerSec: 1000,
		CacheSize:  cacheSize,
		CacheTTL:   time.Minute,
		Logger:     logger,
	})
	require.NoError(t, err)
	return client
}

const fightClub = `{
	"id": 550,
	"title": "Fight Club",
	"overview": "An insomniac office worker...",
	"tagline": "Mischief. Mayhem. Soap.",
	"poster_path": "/pB8BM7pdSp6B6Ih7QZ4DrQ3PmJK.jpg",
	"backdrop_path": null,
	"release_date": "1999-10-15",
	"vote_average": 8.4,
	"vote_count": 27000,
	"runtime": 139,
	"genres": [{"id": 18, "name": "Drama"}]
}`

func TestHTTPClientMovie(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/movie/550", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(fightClub))
	}), 0)

	movie, err := client.Movie(context.Background(), 550)
	require.NoError(t, err)
	assert.Equal(t, domain.MovieID(550), movie.ID)
	assert.Equal(t, "Fight Club", movie.Title)
	assert.Equal(t, 1999, movie.ReleaseYear())
	assert.Equal(t, "", movie.BackdropPath)
	require.Len(t, movie.Genres, 1)
	assert.Equal(t, "Drama", movie.Genres[0].Name)
}

func TestHTTPClientMovieNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status_code":34,"status_message":"The resource you requested could not be found."}`))
	}), 0)

	_, err := client.Movie(context.Background(), 999999999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPClientMovieMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>oops</html>`},
		{name: "missing title", body: `{"id": 550}`},
		{name: "vote average out of range", body: `{"id": 550, "title": "x", "vote_average": 42}`},
		{name: "wrong type", body: `{"id": "550", "title": "x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}), 0)
			_, err := client.Movie(context.Background(), 550)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestHTTPClientUpstreamError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}), 0)

	_, err := client.Movie(context.Background(), 550)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPClientSearch(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/search/movie", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "fight", q.Get("query"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "false", q.Get("include_adult"))
		_, _ = w.Write([]byte(`{"page":2,"total_pages":3,"results":[
			{"id":550,"title":"Fight Club","release_date":"1999-10-15"},
			{"id":0,"title":"broken"},
			{"id":551,"title":"Fight Night","release_date":""}
		]}`))
	}), 0)

	page, err := client.Search(context.Background(), " fight ", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Results, 2)
	assert.Equal(t, domain.MovieID(551), page.Results[1].ID)
	assert.Nil(t, page.Results[1].ReleaseDate)
}

func TestHTTPClientSearchEmptyQuery(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}), 0)

	page, err := client.Search(context.Background(), "   ", 1)
	require.NoError(t, err)
	assert.Empty(t, page.Results)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestHTTPClientListingPaths(t *testing.T) {
	tests := []struct {
		category domain.ListingCategory
		path     string
	}{
		{domain.ListingTrending, "/3/trending/movie/week"},
		{domain.ListingPopular, "/3/movie/popular"},
		{domain.ListingTopRated, "/3/movie/top_rated"},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.path, r.URL.Path)
				assert.Equal(t, "1", r.URL.Query().Get("page"))
				_, _ = w.Write([]byte(`{"page":1,"results":[{"id":13,"title":"Forrest Gump"}]}`))
			}), 0)
			movies, err := client.Listing(context.Background(), tt.category, 0)
			require.NoError(t, err)
			require.Len(t, movies, 1)
			assert.Equal(t, "Forrest Gump", movies[0].Title)
		})
	}

	client := newTestClient(t, http.NotFoundHandler(), 0)
	_, err := client.Listing(context.Background(), "upcoming", 1)
	assert.Error(t, err)
}

func TestHTTPClientCreditsAndSimilar(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/3/movie/550/credits":
			_, _ = w.Write([]byte(`{"id":550,"cast":[
				{"id":819,"name":"Edward Norton","character":"The Narrator","profile_path":"/x.jpg"},
				{"id":0,"name":""}
			]}`))
		case "/3/movie/550/similar":
			_, _ = w.Write([]byte(`{"page":1,"results":[{"id":807,"title":"Se7en"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}), 0)

	credits, err := client.Credits(context.Background(), 550)
	require.NoError(t, err)
	require.Len(t, credits.Cast, 1)
	assert.Equal(t, "Edward Norton", credits.Cast[0].Name)

	similar, err := client.Similar(context.Background(), 550)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, domain.MovieID(807), similar[0].ID)
}

func TestHTTPClientCachesBodies(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(fightClub))
	}), 16)

	for i := 0; i < 3; i++ {
		_, err := client.Movie(context.Background(), 550)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPClientDeduplicatesInFlight(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		_, _ = w.Write([]byte(fightClub))
	}), 0)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Movie(context.Background(), 550)
			errs <- err
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(workers))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestHTTPClientContextCancelled(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(fightClub))
	}), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Movie(ctx, 550)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), fmt.Sprintf("got %v", err))
}

func TestImageURLs(t *testing.T) {
	assert.Equal(t, PlaceholderPoster, PosterURL("", "w342"))
	assert.Equal(t, "https://image.tmdb.org/t/p/w500/a.jpg", PosterURL("/a.jpg", ""))
	assert.Equal(t, "https://image.tmdb.org/t/p/w342/a.jpg", PosterURL("/a.jpg", "w342"))
	assert.Equal(t, PlaceholderBackdrop, BackdropURL("", ""))
	assert.Equal(t, "https://image.tmdb.org/t/p/w1280/b.jpg", BackdropURL("/b.jpg", ""))
	assert.Equal(t, "", ProfileURL(""))
}
