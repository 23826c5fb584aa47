// Command tmdb-mock serves canned TMDB responses so the service can run without network access.
package main

import (
	"flag"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/reel-ledger/internal/logging"
	"github.com/Clark-Hu/reel-ledger/internal/tmdb/tmdbtest"
)

func main() {
	var (
		port   = flag.String("port", "9099", "port to listen on")
		data   = flag.String("data", "", "path to a fixture file; the built-in set is used when empty")
		apiKey = flag.String("api-key", "", "require this api_key on every request")
		level  = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger, err := logging.New(*level, "text")
	if err != nil {
		logrus.Fatalf("logger: %v", err)
	}

	fixtures := tmdbtest.Default()
	if *data != "" {
		fixtures, err = tmdbtest.Load(*data)
		if err != nil {
			logger.WithError(err).Fatal("load fixtures")
		}
	}

	handler := tmdbtest.Handler(fixtures, *apiKey)
	logged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Debug("request")
		handler.ServeHTTP(w, r)
	})

	addr := ":" + *port
	logger.WithFields(logrus.Fields{"addr": addr, "movies": len(fixtures.Movies)}).Info("mock tmdb listening")
	if err := http.ListenAndServe(addr, logged); err != nil {
		logger.WithError(err).Error("server error")
		os.Exit(1)
	}
}
