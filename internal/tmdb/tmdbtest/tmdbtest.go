// Package tmdbtest serves canned TMDB v3 responses for tests and local development.
package tmdbtest

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

//go:embed testdata/fixtures.json
var defaultFixtures []byte

// Fixtures is the on-disk fixture format. Movies are keyed by id; similar and list entries
// reference those ids.
type Fixtures struct {
	Movies  map[string]json.RawMessage `json:"movies"`
	Credits map[string]json.RawMessage `json:"credits"`
	Similar map[string][]int64         `json:"similar"`
	Lists   map[string][]int64         `json:"lists"`
}

// Default returns the built-in fixture set.
func Default() *Fixtures {
	f, err := Parse(defaultFixtures)
	if err != nil {
		panic(err)
	}
	return f
}

// Load reads fixtures from path.
func Load(path string) (*Fixtures, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read fixtures")
	}
	return Parse(raw)
}

// Parse decodes a fixture document.
func Parse(raw []byte) (*Fixtures, error) {
	var f Fixtures
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "parse fixtures")
	}
	return &f, nil
}

var listPaths = map[string]string{
	"/trending/movie/week": "trending",
	"/movie/popular":       "popular",
	"/movie/top_rated":     "top_rated",
}

// Handler serves f. When apiKey is set, requests must carry it as the api_key parameter.
func Handler(f *Fixtures, apiKey string) http.Handler {
	r := chi.NewRouter()
	if apiKey != "" {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if req.URL.Query().Get("api_key") != apiKey {
					writeStatus(w, http.StatusUnauthorized, 7, "Invalid API key: You must be granted a valid key.")
					return
				}
				next.ServeHTTP(w, req)
			})
		})
	}

	for path, list := range listPaths {
		list := list
		r.Get(path, func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, f.page(f.Lists[list]))
		})
	}
	r.Get("/search/movie", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, f.search(req.URL.Query().Get("query")))
	})
	r.Get("/movie/{id}", func(w http.ResponseWriter, req *http.Request) {
		movie, ok := f.Movies[chi.URLParam(req, "id")]
		if !ok {
			writeStatus(w, http.StatusNotFound, 34, "The resource you requested could not be found.")
			return
		}
		writeJSON(w, movie)
	})
	r.Get("/movie/{id}/credits", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		if _, ok := f.Movies[id]; !ok {
			writeStatus(w, http.StatusNotFound, 34, "The resource you requested could not be found.")
			return
		}
		cast := f.Credits[id]
		if cast == nil {
			cast = json.RawMessage("[]")
		}
		numeric, _ := strconv.ParseInt(id, 10, 64)
		writeJSON(w, map[string]any{"id": numeric, "cast": cast})
	})
	r.Get("/movie/{id}/similar", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		if _, ok := f.Movies[id]; !ok {
			writeStatus(w, http.StatusNotFound, 34, "The resource you requested could not be found.")
			return
		}
		writeJSON(w, f.page(f.Similar[id]))
	})
	return r
}

// NewServer starts an httptest server over f. Callers close it.
func NewServer(f *Fixtures, apiKey string) *httptest.Server {
	return httptest.NewServer(Handler(f, apiKey))
}

func (f *Fixtures) page(ids []int64) map[string]any {
	results := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		if movie, ok := f.Movies[strconv.FormatInt(id, 10)]; ok {
			results = append(results, movie)
		}
	}
	return map[string]any{
		"page":          1,
		"results":       results,
		"total_pages":   1,
		"total_results": len(results),
	}
}

func (f *Fixtures) search(query string) map[string]any {
	query = strings.ToLower(strings.TrimSpace(query))
	var ids []int64
	for key, raw := range f.Movies {
		var head struct {
			Title string `json:"title"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			continue
		}
		if query != "" && strings.Contains(strings.ToLower(head.Title), query) {
			id, _ := strconv.ParseInt(key, 10, 64)
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return f.page(ids)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func writeStatus(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":        false,
		"status_code":    code,
		"status_message": message,
	})
}
