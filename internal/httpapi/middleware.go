// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/authd/internal/auth"
)

const principalKey = "principal"

// instrument wraps every request in a span, logs one line and records
// metrics. Handler errors are rendered here so the final status is known.
func (s *Server) instrument(c *fiber.Ctx) error {
	start := time.Now()
	ctx, span := s.tracer.Start(c.UserContext(), "HTTP "+c.Method(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", c.Method()),
			attribute.String("url.path", c.Path()),
		))
	defer span.End()
	c.SetUserContext(ctx)

	if err := c.Next(); err != nil {
		if herr := s.handleError(c, err); herr != nil {
			return herr
		}
	}

	route := c.Route().Path
	status := c.Response().StatusCode()
	elapsed := time.Since(start)

	span.SetName(c.Method() + " " + route)
	span.SetAttributes(
		attribute.String("http.route", route),
		attribute.Int("http.response.status_code", status),
	)
	if status >= fiber.StatusInternalServerError {
		span.SetStatus(codes.Error, "server error")
	}

	s.logger.InfoContext(ctx, "http request",
		"method", c.Method(),
		"route", route,
		"status", status,
		"duration_ms", elapsed.Milliseconds(),
		"remote_ip", c.IP())
	if s.obs != nil {
		s.obs.ObserveRequest(c.Method(), route, status, elapsed)
	}
	return nil
}

// requireSession authenticates the bearer token and stores the principal.
func (s *Server) requireSession(c *fiber.Ctx) error {
	token, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
	if !ok {
		return oops.Code(auth.CodeUnauthorized).Wrapf(auth.ErrUnauthorized, "missing bearer token")
	}

	p, err := s.guard.Authenticate(c.UserContext(), token)
	if err != nil {
		return err //nolint:wrapcheck // the guard already returns the uniform error
	}

	c.Locals(principalKey, p)
	trace.SpanFromContext(c.UserContext()).SetAttributes(attribute.String("enduser.id", p.UserID.String()))
	return c.Next()
}

func requireAdmin(c *fiber.Ctx) error {
	if !principal(c).IsAdmin() {
		return oops.Code(auth.CodeForbidden).Wrapf(auth.ErrForbidden, "admin access required")
	}
	return c.Next()
}

func principal(c *fiber.Ctx) *auth.Principal {
	p, _ := c.Locals(principalKey).(*auth.Principal)
	return p
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
