// Package app assembles the service graph shared by the HTTP server and the CLI.
package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/reel-ledger/db"
	"github.com/Clark-Hu/reel-ledger/internal/config"
	"github.com/Clark-Hu/reel-ledger/internal/domain"
	"github.com/Clark-Hu/reel-ledger/internal/ledger"
	"github.com/Clark-Hu/reel-ledger/internal/ledger/ledgersim"
	"github.com/Clark-Hu/reel-ledger/internal/reconcile"
	"github.com/Clark-Hu/reel-ledger/internal/repository"
	"github.com/Clark-Hu/reel-ledger/internal/store"
	"github.com/Clark-Hu/reel-ledger/internal/tmdb"
)

// Options adjusts how Build assembles components.
type Options struct {
	// WrapSigner, when set, wraps every loaded signer (for example with an approval prompt).
	WrapSigner func(ledger.Signer) ledger.Signer
	// Registry receives process and service metrics. A fresh registry is created when nil.
	Registry *prometheus.Registry
}

// Components is the assembled graph. Store is nil when persistence is disabled; Sim is
// nil unless the ledger runs in simulation mode.
type Components struct {
	Store    *store.Store
	Catalog  *tmdb.HTTPClient
	Gateway  ledger.Gateway
	Sim      *ledgersim.Ledger
	Contract *ledger.Contract
	Keyring  *ledger.Keyring
	Service  *reconcile.Service
	Registry *prometheus.Registry

	closers []func()
}

// Close releases everything Build opened, newest first.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build wires configuration into a running service graph. On error, anything already
// opened is released.
func Build(ctx context.Context, cfg config.Config, logger logrus.FieldLogger, opts Options) (_ *Components, err error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Components{Registry: opts.Registry}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
		c.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	var journal reconcile.Journal
	var likes reconcile.LikeStore
	if cfg.PersistenceEnabled() {
		st, err := store.New(ctx, cfg.DBURL, store.Options{
			MaxConns:               int32(cfg.DBMaxConns),
			MinConns:               int32(cfg.DBMinConns),
			MaxConnIdleTime:        cfg.DBMaxIdle,
			MaxConnLifetime:        cfg.DBMaxLife,
			ConnTimeout:            cfg.DBConnTimeout,
			StatementCacheCapacity: cfg.DBStatementCache,
			Logger:                 logger,
		})
		if err != nil {
			return nil, errors.Wrap(err, "connect database")
		}
		c.Store = st
		c.closers = append(c.closers, st.Close)
		if cfg.DBAutoMigrate {
			if _, err := st.Migrate(ctx, db.Migrations); err != nil {
				return nil, errors.Wrap(err, "migrate database")
			}
		}
		if err := st.RegisterPoolMetrics(c.Registry); err != nil {
			return nil, err
		}
		repo := repository.New(st)
		journal, likes = repo.Submissions, repo.Likes
	} else {
		logger.Info("DB_URL not set; submissions and likes are kept in memory")
	}

	c.Catalog, err = tmdb.NewHTTPClient(cfg.TMDBBaseURL, cfg.TMDBAPIKey, tmdb.Options{
		Timeout:    cfg.TMDBTimeout,
		RatePerSec: cfg.TMDBRatePerSec,
		CacheSize:  cfg.TMDBCacheSize,
		CacheTTL:   cfg.TMDBCacheTTL,
		Logger:     logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init tmdb client")
	}

	keyring, err := ledger.LoadKeyring(cfg.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "load signing keys")
	}

	switch cfg.LedgerMode {
	case config.LedgerModeSim:
		c.Sim = ledgersim.New(ledgersim.Options{ChainID: cfg.ChainID, Logger: logger})
		c.Gateway = c.Sim
		if len(keyring.Submitters()) == 0 {
			key, err := ledger.GenerateKeySigner()
			if err != nil {
				return nil, errors.Wrap(err, "generate sim key")
			}
			keyring.Add(key)
			logger.WithField("address", key.Address().Hex()).Info("generated throwaway signing key for simulated ledger")
		}
	default:
		gw, err := ledger.DialEth(ctx, cfg.LedgerRPCURL, common.HexToAddress(cfg.ContractAddress), cfg.ChainID, logger)
		if err != nil {
			return nil, errors.Wrap(err, "connect ledger")
		}
		gw.SetLogStart(cfg.LogStartBlock)
		c.Gateway = gw
		c.closers = append(c.closers, gw.Close)
	}

	c.Keyring = wrapKeyring(keyring, opts.WrapSigner)
	c.Contract = ledger.NewContract(c.Gateway, logger)

	c.Service, err = reconcile.New(reconcile.Options{
		Catalog:        c.Catalog,
		Contract:       c.Contract,
		Keyring:        c.Keyring,
		Journal:        journal,
		Likes:          likes,
		Logger:         logger,
		Registerer:     c.Registry,
		ConfirmTimeout: cfg.ConfirmTimeout,
		ConfirmPoll:    cfg.ConfirmPoll,
		SettleDelay:    cfg.SettleDelay,
		SettleBackoff:  cfg.SettleBackoff,
		SettleRetries:  cfg.SettleRetries,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init reconcile service")
	}
	c.closers = append(c.closers, c.Service.Close)

	logger.WithFields(logrus.Fields{
		"ledger_mode": cfg.LedgerMode,
		"signers":     len(c.Keyring.Submitters()),
		"persistence": cfg.PersistenceEnabled(),
	}).Info("components ready")
	return c, nil
}

// DefaultSubmitter returns the only identity the keyring holds, or the empty submitter
// when it holds none or several.
func (c *Components) DefaultSubmitter() domain.Submitter {
	subs := c.Keyring.Submitters()
	if len(subs) != 1 {
		return ""
	}
	return subs[0]
}

func wrapKeyring(k *ledger.Keyring, wrap func(ledger.Signer) ledger.Signer) *ledger.Keyring {
	if wrap == nil {
		return k
	}
	wrapped := ledger.NewKeyring()
	for _, sub := range k.Submitters() {
		s, _ := k.Signer(sub)
		wrapped.Add(wrap(s))
	}
	return wrapped
}
