package bootstrap

import (
	"log/slog"

	"github.com/eleven-am/scribe-backend/internal/analysis"
	"github.com/eleven-am/scribe-backend/internal/health"
	"github.com/eleven-am/scribe-backend/internal/lease"
	"github.com/eleven-am/scribe-backend/internal/scribe"
	"github.com/eleven-am/scribe-backend/internal/speech"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const version = "1.0.0"

func ProvideHealthHandler(
	db *gorm.DB,
	redis *redis.Client,
	stt speech.Transcriber,
	engine analysis.Engine,
	registry *scribe.Registry,
	leases *lease.Store,
	logger *slog.Logger,
) *health.Handler {
	return health.NewHandler(
		db,
		redis,
		stt,
		engine,
		registry,
		leases,
		logger.With("handler", "health"),
		version,
	)
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler) {
	h.RegisterRoutes(e)
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
)
