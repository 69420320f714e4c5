// Package gatewayapi builds the gateway daemon's status HTTP surface:
// GET /health, GET /metrics and, for a Server-role gateway, GET /words.
// It is deliberately small next to the teacher's dashboard REST API —
// this module has no flows, users or tenants to serve, only a running
// protocol daemon's own health.
package gatewayapi

import (
	"fmt"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/golang-jwt/jwt/v5"

	"github.com/edgeflow/modbus/internal/health"
	"github.com/edgeflow/modbus/internal/metrics"
	"github.com/edgeflow/modbus/pkg/modbus/server"
)

// JWTSecretEnv names the environment variable that, when set, requires a
// valid HMAC-signed (HS256/HS384/HS512) bearer token on every route this
// package serves. The wire
// protocol itself carries no authentication; this guards only the
// introspection API.
const JWTSecretEnv = "MODBUSGW_API_JWT_SECRET"

// New builds the fiber app. srv may be nil (Client/Bridge roles have no
// word store to expose); jwtSecret empty disables auth.
func New(m *metrics.Metrics, hc *health.HealthChecker, srv *server.Server, jwtSecret string) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())
	app.Use(metrics.Middleware(m))

	if jwtSecret != "" {
		app.Use(authMiddleware(jwtSecret))
	}

	app.Get("/health", healthHandler(hc))
	app.Get("/metrics", metricsHandler(m))
	if srv != nil {
		app.Get("/words", wordsHandler(srv))
	}

	return app
}

// NewFromEnv is a convenience wrapper reading JWTSecretEnv itself.
func NewFromEnv(m *metrics.Metrics, hc *health.HealthChecker, srv *server.Server) *fiber.App {
	return New(m, hc, srv, os.Getenv(JWTSecretEnv))
}

func healthHandler(hc *health.HealthChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		hc.RunChecks(c.Context())
		status := hc.GetOverallStatus()
		code := fiber.StatusOK
		if status != health.StatusHealthy {
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": hc.GetCheckResults(),
		})
	}
}

func metricsHandler(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		m.UpdateSystemMetrics()
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(m.PrometheusFormat())
	}
}

func wordsHandler(srv *server.Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"words": srv.Words(),
			"count": srv.WordCount(),
		})
	}
}

// authMiddleware guards every route registered after it with a bearer
// token validated against secret (any HMAC signing method).
func authMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing bearer token"})
		}

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Method)
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		return c.Next()
	}
}
