// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package sqlite provides GORM/SQLite implementations of auth repositories
// for single-node deployments.
package sqlite

import (
	"context"
	"time"

	"github.com/samber/oops"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/holomush/authd/internal/auth"
)

type userModel struct {
	ID             string     `gorm:"primaryKey;type:text"`
	Username       string     `gorm:"uniqueIndex;not null;type:text"`
	Email          string     `gorm:"uniqueIndex;not null;type:text"`
	FullName       string     `gorm:"not null;default:'';type:text"`
	PasswordHash   string     `gorm:"not null;type:text"`
	Role           string     `gorm:"not null;type:text"`
	Status         string     `gorm:"not null;type:text"`
	FailedAttempts int        `gorm:"not null;default:0"`
	LockedUntil    *time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime:false;index:idx_users_created"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime:false"`
}

func (userModel) TableName() string { return "users" }

type resetModel struct {
	ID         string     `gorm:"primaryKey;type:text"`
	UserID     string     `gorm:"uniqueIndex;not null;type:text"`
	TokenID    string     `gorm:"not null;type:text"`
	TokenHash  string     `gorm:"not null;type:text"`
	ExpiresAt  time.Time  `gorm:"index;not null"`
	CreatedAt  time.Time  `gorm:"autoCreateTime:false"`
	ConsumedAt *time.Time
}

func (resetModel) TableName() string { return "password_resets" }

// Open opens the SQLite database at path and migrates the auth schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on&_busy_timeout=5000"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, oops.Code("SQLITE_OPEN_FAILED").With("path", path).Wrap(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, oops.Code("SQLITE_OPEN_FAILED").With("path", path).Wrap(err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases shared across calls.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&userModel{}, &resetModel{}); err != nil {
		_ = sqlDB.Close()
		return nil, oops.Code("SQLITE_MIGRATE_FAILED").With("path", path).Wrap(err)
	}
	return db, nil
}

// Close closes the underlying database handle.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return oops.Code("SQLITE_CLOSE_FAILED").Wrap(err)
	}
	if err := sqlDB.Close(); err != nil {
		return oops.Code("SQLITE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

type txKey struct{}

// conn returns the transaction bound to ctx, or db when there is none.
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// Transactor implements auth.Transactor with GORM transactions.
type Transactor struct {
	db *gorm.DB
}

// NewTransactor creates a new Transactor.
func NewTransactor(db *gorm.DB) *Transactor {
	return &Transactor{db: db}
}

// WithinTx runs fn in a transaction. Nested calls join the outer transaction.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}

	var fnErr error
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(context.WithValue(ctx, txKey{}, tx))
		return fnErr
	})
	if err != nil && fnErr == nil {
		return oops.Code("TX_FAILED").With("operation", "sqlite transaction").Wrap(err)
	}
	return err
}

// Compile-time interface check.
var _ auth.Transactor = (*Transactor)(nil)
