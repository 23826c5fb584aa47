package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Options controls connection-pool behaviour.
type Options struct {
	MaxConns               int32
	MinConns               int32
	MaxConnIdleTime        time.Duration
	MaxConnLifetime        time.Duration
	ConnTimeout            time.Duration
	StatementCacheCapacity int
	Logger                 logrus.FieldLogger
}

// Store owns the postgres pool backing the submission journal and like relations.
type Store struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
	opts Options
}

// New initializes a connection pool and validates connectivity with Ping.
func New(ctx context.Context, dbURL string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "store")
	logger.WithFields(logrus.Fields{
		"max_conns":  opts.MaxConns,
		"min_conns":  opts.MinConns,
		"idle":       opts.MaxConnIdleTime.String(),
		"lifetime":   opts.MaxConnLifetime.String(),
		"stmt_cache": opts.StatementCacheCapacity,
	}).Info("initializing connection pool")

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.StatementCacheCapacity >= 0 {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
		cfg.ConnConfig.StatementCacheCapacity = opts.StatementCacheCapacity
	}

	connCtx := ctx
	if opts.ConnTimeout > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, opts.ConnTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("database connection established")
	return &Store{pool: pool, log: logger, opts: opts}, nil
}

// Close releases database resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.log.Info("closing connection pool")
	s.pool.Close()
}

// HealthCheck verifies the database is reachable. A nil store is healthy: persistence is optional.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	checkCtx := ctx
	if s.opts.ConnTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, s.opts.ConnTimeout)
		defer cancel()
	}
	return s.pool.Ping(checkCtx)
}

// Pool exposes the underlying pgx pool for repositories.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Stats exposes pool statistics for the metrics collector. It is nil for a nil store.
func (s *Store) Stats() *pgxpool.Stat {
	if s == nil || s.pool == nil {
		return nil
	}
	return s.pool.Stat()
}

// RegisterPoolMetrics exports pool gauges on reg.
func (s *Store) RegisterPoolMetrics(reg prometheus.Registerer) error {
	gauges := []struct {
		name, help string
		read       func(*pgxpool.Stat) float64
	}{
		{"reel_db_pool_total_conns", "Connections currently open in the pool.", func(st *pgxpool.Stat) float64 { return float64(st.TotalConns()) }},
		{"reel_db_pool_acquired_conns", "Connections currently checked out.", func(st *pgxpool.Stat) float64 { return float64(st.AcquiredConns()) }},
		{"reel_db_pool_idle_conns", "Idle connections in the pool.", func(st *pgxpool.Stat) float64 { return float64(st.IdleConns()) }},
	}
	for _, g := range gauges {
		read := g.read
		err := reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: g.name, Help: g.help}, func() float64 {
			st := s.Stats()
			if st == nil {
				return 0
			}
			return read(st)
		}))
		if err != nil {
			return fmt.Errorf("register %s: %w", g.name, err)
		}
	}
	return nil
}
