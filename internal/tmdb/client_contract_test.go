package tmdb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// TestHTTPClientSmoke checks that the client can parse a live (or mock) TMDB service.
// Point TMDB_BASE_URL at cmd/tmdb-mock or the real API to run it.
func TestHTTPClientSmoke(t *testing.T) {
	baseURL := os.Getenv("TMDB_BASE_URL")
	if baseURL == "" {
		t.Skip("TMDB_BASE_URL not provided")
	}
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	client, err := NewHTTPClient(baseURL, os.Getenv("TMDB_API_KEY"), Options{Timeout: 3 * time.Second, Logger: logger})
	if err != nil {
		t.Fatalf("create http client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	movie, err := client.Movie(ctx, 550)
	if err != nil {
		t.Fatalf("fetch movie: %v", err)
	}
	if movie.Title == "" {
		t.Fatalf("unexpected movie payload: %+v", movie)
	}
}
