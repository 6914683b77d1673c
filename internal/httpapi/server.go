// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the authd services over HTTP using Fiber.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/authd/internal/auth"
)

// AuthService is the account surface the API drives.
type AuthService interface {
	Signup(ctx context.Context, in auth.SignupInput) (*auth.User, error)
	Login(ctx context.Context, identifier, password string) (*auth.Session, error)
	Logout(ctx context.Context, p *auth.Principal) error
	ChangePassword(ctx context.Context, userID ulid.ULID, current, next string) error
	Profile(ctx context.Context, userID ulid.ULID) (*auth.User, error)
	ListUsers(ctx context.Context) ([]*auth.User, error)
	CreateUser(ctx context.Context, in auth.CreateUserInput) (*auth.User, string, error)
	UpdateUser(ctx context.Context, actorID, userID ulid.ULID, upd auth.UserUpdate) (*auth.User, error)
}

// ResetService is the password reset surface the API drives.
type ResetService interface {
	RequestReset(ctx context.Context, identifier string) error
	ConfirmReset(ctx context.Context, token, newPassword string) error
}

// Authenticator resolves a bearer token to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Principal, error)
}

// RequestObserver records completed requests, typically as metrics.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
}

// Config holds the API dependencies. Auth, Resets and Guard are required.
type Config struct {
	Auth     AuthService
	Resets   ResetService
	Guard    Authenticator
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Observer RequestObserver
	Version  string
}

// Server serves the authd HTTP API.
type Server struct {
	app    *fiber.App
	auth   AuthService
	resets ResetService
	guard  Authenticator
	logger *slog.Logger
	tracer trace.Tracer
	obs    RequestObserver

	version string
}

// New builds the API and registers its routes.
func New(cfg Config) (*Server, error) {
	switch {
	case cfg.Auth == nil:
		return nil, oops.Code("HTTPAPI_INVALID").Errorf("auth service is required")
	case cfg.Resets == nil:
		return nil, oops.Code("HTTPAPI_INVALID").Errorf("reset service is required")
	case cfg.Guard == nil:
		return nil, oops.Code("HTTPAPI_INVALID").Errorf("guard is required")
	}

	s := &Server{
		auth:    cfg.Auth,
		resets:  cfg.Resets,
		guard:   cfg.Guard,
		logger:  cfg.Logger,
		tracer:  cfg.Tracer,
		obs:     cfg.Observer,
		version: cfg.Version,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/holomush/authd/internal/httpapi")
	}
	if s.version == "" {
		s.version = "dev"
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "authd",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
		IdleTimeout:           60 * time.Second,
	})
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.app.Use(s.instrument)

	s.app.Get("/", s.banner)
	s.app.Post("/signup", s.signup)
	s.app.Post("/login", s.login)
	s.app.Post("/reset-password-request", s.requestReset)
	s.app.Post("/reset-password", s.confirmReset)

	session := s.requireSession
	s.app.Post("/logout", session, s.logout)
	s.app.Get("/profile", session, s.profile)
	s.app.Post("/change-password", session, s.changePassword)

	s.app.Get("/users", session, requireAdmin, s.listUsers)
	s.app.Post("/admin/add-user", session, requireAdmin, s.createUser)
	s.app.Put("/users/:id", session, requireAdmin, s.updateUser)
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.app.Listener(ln); err != nil {
		return oops.Code("HTTP_SERVE_FAILED").With("addr", ln.Addr().String()).Wrap(err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return oops.Code("HTTP_SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}
