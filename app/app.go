/*
app.go - Dependency wiring

PURPOSE:
  Builds the hours bank from a loaded config. Shared by cmd/server and
  cmd/hoursctl so both run against the same storage and lock choices.

WIRING:
  - Domain tables (users, schedules, records, leave, recoveries, job runs)
    always live in the SQLite file.
  - The ledger and snapshots live in SQLite or Postgres (LEDGER_DRIVER).
  - The scope locker is in-process or Redis (LOCK_BACKEND). Use Redis when
    more than one replica appends to the same ledger.

SEE ALSO:
  - config/config.go: settings
  - generic/ledger.go: the ledger the service appends through
*/
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/warp/hoursbank/attendance"
	"github.com/warp/hoursbank/config"
	"github.com/warp/hoursbank/generic"
	"github.com/warp/hoursbank/lock"
	"github.com/warp/hoursbank/store/postgres"
	"github.com/warp/hoursbank/store/sqlite"
)

// Locker is what the ledger and the scheduler need from a lock backend.
type Locker interface {
	generic.Locker
	TryLock(ctx context.Context, key string) (func(), error)
}

type App struct {
	Config  *config.Config
	Store   *sqlite.Store
	Ledger  *generic.DefaultLedger
	Locker  Locker
	Service *attendance.Service
	Logger  *logrus.Logger

	closers []func() error
}

// Options override the wiring for tests and tools.
type Options struct {
	Now func() time.Time
}

// New opens every backend the config names. Close releases them in
// reverse order.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if path := cfg.Storage.DBPath; path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", cfg.Storage.DBPath, err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	var ledgerStore generic.Store = store
	if cfg.Storage.LedgerDriver == config.DriverPostgres {
		pg, err := a.openPostgres(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		ledgerStore = pg
	}

	locker, err := a.openLocker(ctx, cfg.Lock)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Locker = locker

	a.Ledger = generic.NewLedger(ledgerStore, locker)
	if opts.Now != nil {
		a.Ledger.Now = opts.Now
	}

	a.Service = attendance.NewService(attendance.Stores{
		Schedules:  store,
		Records:    store,
		Leaves:     store,
		Recoveries: store,
		Users:      store,
		Entries:    ledgerStore,
	}, a.Ledger, attendance.Options{
		Placement:  cfg.Hours.BreakPlacement,
		TodayRule:  cfg.Hours.TodayRule,
		Location:   cfg.Hours.Location,
		AutoRepair: cfg.Hours.AutoRepair,
		Now:        opts.Now,
	}, logger)

	logger.WithFields(logrus.Fields{
		"db":            cfg.Storage.DBPath,
		"ledger_driver": cfg.Storage.LedgerDriver,
		"lock_backend":  cfg.Lock.Backend,
		"timezone":      cfg.Hours.Location.String(),
	}).Info("hours bank wired")
	return a, nil
}

func (a *App) openPostgres(ctx context.Context, dsn string) (*postgres.Store, error) {
	pool, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	pg := postgres.New(pool)
	a.closers = append(a.closers, func() error { pg.Close(); return nil })
	if err := pg.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate postgres: %w", err)
	}
	return pg, nil
}

func (a *App) openLocker(ctx context.Context, cfg config.LockConfig) (Locker, error) {
	if cfg.Backend != config.LockRedis {
		return lock.NewLocal(), nil
	}
	opts := lock.DefaultRedisOptions()
	opts.TTL = cfg.TTL
	opts.Prefix = "hoursbank:"
	locker, client, err := lock.Connect(ctx, cfg.RedisURL, opts, a.Logger.WithField("module", "lock"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return closeRedis(client) })
	return locker, nil
}

func closeRedis(client *redis.Client) error {
	if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// Close releases backends. Safe to call more than once.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
