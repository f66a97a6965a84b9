// Package store is the system-of-record: the transactional tables behind
// orders, products, rankings, streaks and achievements.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/PrateekKrishna/rank-sync/internal/models"
)

const defaultTimeout = 5 * time.Second

type Store struct {
	db      *gorm.DB
	timeout time.Duration
	now     func() time.Time
}

type Options struct {
	// Timeout bounds every call; zero means five seconds.
	Timeout  time.Duration
	LogLevel logger.LogLevel
	MaxConns int
}

// Open connects to postgres, or to sqlite when dsn starts with "sqlite:".
func Open(dsn string, opts Options) (*Store, error) {
	if opts.LogLevel == 0 {
		opts.LogLevel = logger.Warn
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(opts.LogLevel)}

	var dialector gorm.Dialector
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		dialector = sqlite.Open(path)
	} else {
		dialector = postgres.Open(dsn)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if opts.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxConns)
	}
	return New(db, opts.Timeout), nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{db: db, timeout: timeout, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates or updates every table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// Ready checks connectivity.
func (s *Store) Ready(ctx context.Context) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the gorm handle for callers composing their own queries.
func (s *Store) DB() *gorm.DB { return s.db }

// Transaction runs fn with a Store bound to a single database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, timeout: s.timeout, now: s.now})
	})
}

// op bounds a call by the store timeout.
func (s *Store) op(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) conn(ctx context.Context) *gorm.DB { return s.db.WithContext(ctx) }
