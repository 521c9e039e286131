package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"github.com/spec-kit/support-service/internal/persistence"
)

// HealthHandler responds to liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	ready       fiber.Handler
}

// NewHealthHandler returns a new handler instance. Dependencies that are
// not configured are left out of the readiness check.
func NewHealthHandler(serviceName, version string, postgres *persistence.Postgres, redis *persistence.Redis, logger *zap.Logger) *HealthHandler {
	listener := func(_ context.Context, name string, state health.CheckState) {
		logger.Info("health check status changed",
			zap.String("name", name),
			zap.String("state", string(state.Status)))
	}

	opts := []health.CheckerOption{
		health.WithCacheDuration(1 * time.Second),
		health.WithTimeout(2 * time.Second),
	}
	if postgres.Enabled() {
		opts = append(opts, health.WithCheck(health.Check{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				if err := postgres.Ping(ctx); err != nil {
					return fmt.Errorf("failed to ping postgres: %w", err)
				}
				return nil
			},
			StatusListener: listener,
		}))
	}
	if redis.Enabled() {
		opts = append(opts, health.WithCheck(health.Check{
			Name: "redis",
			Check: func(ctx context.Context) error {
				if err := redis.Ping(ctx); err != nil {
					return fmt.Errorf("failed to ping redis: %w", err)
				}
				return nil
			},
			StatusListener: listener,
		}))
	}

	return &HealthHandler{
		serviceName: serviceName,
		version:     version,
		ready:       adaptor.HTTPHandler(health.NewHandler(health.NewChecker(opts...))),
	}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready reports service readiness by checking dependencies.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	return h.ready(c)
}
