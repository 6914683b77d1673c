// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/authd/internal/store"
)

// setupPostgresContainer starts PostgreSQL and applies the schema.
func setupPostgresContainer() (*pgxpool.Pool, func(), error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("authd_test"),
		postgres.WithUsername("authd"),
		postgres.WithPassword("authd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}
	defer migrator.Close() //nolint:errcheck // schema is applied or the error is returned
	if err := migrator.Up(); err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}

	pool, err := store.Open(ctx, connStr, store.WithMaxConns(4))
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
	return pool, cleanup, nil
}

var _ = Describe("authd schema", Ordered, func() {
	var (
		pool    *pgxpool.Pool
		cleanup func()
		ctx     context.Context
	)

	BeforeAll(func() {
		var err error
		pool, cleanup, err = setupPostgresContainer()
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterAll(func() {
		if cleanup != nil {
			cleanup()
		}
	})

	insertUser := func(id, username, email string) error {
		_, err := pool.Exec(ctx,
			`INSERT INTO users (id, username, email, password_hash) VALUES ($1, $2, $3, 'h')`,
			id, username, email)
		return err
	}

	Describe("users", func() {
		It("defaults new rows to active analysts", func() {
			Expect(insertUser("01HZZZZZZZZZZZZZZZZZZZZZZ1", "alice", "alice@example.com")).To(Succeed())

			var role, status string
			var failures int
			err := pool.QueryRow(ctx,
				`SELECT role, status, failed_attempts FROM users WHERE id = $1`,
				"01HZZZZZZZZZZZZZZZZZZZZZZ1").Scan(&role, &status, &failures)
			Expect(err).NotTo(HaveOccurred())
			Expect(role).To(Equal("analyst"))
			Expect(status).To(Equal("active"))
			Expect(failures).To(BeZero())
		})

		It("enforces case-insensitive uniqueness of username and email", func() {
			Expect(insertUser("01HZZZZZZZZZZZZZZZZZZZZZZ2", "ALICE", "other@example.com")).NotTo(Succeed())
			Expect(insertUser("01HZZZZZZZZZZZZZZZZZZZZZZ3", "bob", "Alice@Example.com")).NotTo(Succeed())
		})

		It("rejects unknown roles", func() {
			_, err := pool.Exec(ctx,
				`INSERT INTO users (id, username, email, password_hash, role) VALUES ($1, $2, $3, 'h', 'root')`,
				"01HZZZZZZZZZZZZZZZZZZZZZZ4", "carol", "carol@example.com")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("password_resets", func() {
		It("keeps one request per user", func() {
			now := time.Now().UTC()
			insert := func(id string) error {
				_, err := pool.Exec(ctx,
					`INSERT INTO password_resets (id, user_id, token_id, token_hash, expires_at, created_at)
					 VALUES ($1, $2, 'jti', 'hash', $3, $4)`,
					id, "01HZZZZZZZZZZZZZZZZZZZZZZ1", now.Add(15*time.Minute), now)
				return err
			}
			Expect(insert("01HZZZZZZZZZZZZZZZZZZZZZR1")).To(Succeed())
			Expect(insert("01HZZZZZZZZZZZZZZZZZZZZZR2")).NotTo(Succeed())
		})

		It("rejects expiry at or before creation", func() {
			now := time.Now().UTC()
			Expect(insertUser("01HZZZZZZZZZZZZZZZZZZZZZZ5", "dave", "dave@example.com")).To(Succeed())
			_, err := pool.Exec(ctx,
				`INSERT INTO password_resets (id, user_id, token_id, token_hash, expires_at, created_at)
				 VALUES ($1, $2, 'jti', 'hash', $3, $3)`,
				"01HZZZZZZZZZZZZZZZZZZZZZR3", "01HZZZZZZZZZZZZZZZZZZZZZZ5", now)
			Expect(err).To(HaveOccurred())
		})
	})
})
