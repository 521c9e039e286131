package http

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spec-kit/support-service/internal/auth"
	"github.com/spec-kit/support-service/internal/observability"
	apperrors "github.com/spec-kit/support-service/pkg/util/errorutil"
)

// RegisterMiddlewares attaches global middlewares such as error handling and logging.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, timeout time.Duration) {
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(errorHandlingMiddleware(logger))
	app.Use(observability.RequestLogger(logger))
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				err = writeError(c, logger, err)
			}
		}()
		return c.Next()
	}
}

// ErrorHandler renders errors that escape the middleware chain, such as
// fiber's own 404 and 405 responses.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		return writeError(c, logger, err)
	}
}

func writeError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	domainErr := apperrors.ToDomainError(err)
	var fe *fiber.Error
	if errors.As(err, &fe) {
		domainErr = apperrors.NewDomainError(fiberErrorCode(fe.Code), fe.Message, fe.Code, nil)
	}
	observability.RecordError(routePath(c), c.Method(), domainErr.Code)

	body := fiber.Map{
		"code":    domainErr.Code,
		"message": domainErr.Message,
	}
	if len(domainErr.Details) > 0 {
		body["details"] = domainErr.Details
	}
	if domainErr.HTTPStatus >= 500 {
		logger.Error("request failed", zap.Error(domainErr))
	}
	return c.Status(domainErr.HTTPStatus).JSON(fiber.Map{"error": body})
}

func fiberErrorCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return apperrors.CodeNotFound
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusBadRequest:
		return apperrors.CodeValidation
	default:
		return "HTTP_ERROR"
	}
}

func routePath(c *fiber.Ctx) string {
	if route := c.Route(); route != nil && route.Path != "" {
		return route.Path
	}
	return c.Path()
}

// PrincipalRateLimiter throttles an endpoint per authenticated caller.
// Limiters idle long enough to have refilled their whole burst are evicted,
// since a fresh limiter behaves the same.
type PrincipalRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*principalLimiter
	limit     rate.Limit
	burst     int
	idleAfter time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type principalLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPrincipalRateLimiter allows perMinute requests per caller with the
// given burst. A non-positive perMinute disables limiting.
func NewPrincipalRateLimiter(perMinute, burst int) *PrincipalRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	idleAfter := time.Minute
	if perMinute > 0 {
		every := time.Minute / time.Duration(perMinute)
		limit = rate.Every(every)
		if refill := every * time.Duration(burst); refill > idleAfter {
			idleAfter = refill
		}
	}
	return &PrincipalRateLimiter{
		limiters:  make(map[string]*principalLimiter),
		limit:     limit,
		burst:     burst,
		idleAfter: idleAfter,
		now:       time.Now,
	}
}

// allow reports whether key may proceed at now.
func (l *PrincipalRateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleAfter {
		for k, entry := range l.limiters {
			if now.Sub(entry.lastSeen) >= l.idleAfter {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}

	entry, ok := l.limiters[key]
	if !ok {
		entry = &principalLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Handle must run after the auth middleware.
func (l *PrincipalRateLimiter) Handle(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	if !l.allow(principal.ID()) {
		return apperrors.NewTooManyRequests("too many messages, slow down")
	}
	return c.Next()
}
