package bootstrap

import (
	"context"
	"log/slog"
	"os"

	"github.com/eleven-am/scribe-backend/internal/clinical"
	"github.com/eleven-am/scribe-backend/internal/gateway"
	"github.com/eleven-am/scribe-backend/internal/record"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

type HandlerParams struct {
	fx.In

	RecordHandler  *record.Handler
	GatewayHandler *gateway.Handler
	RateLimiter    *gateway.RateLimiter
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	limit := params.RateLimiter.Middleware()
	api := e.Group("/v1")

	params.RecordHandler.RegisterRoutes(api.Group("/transcriptions", limit))

	params.GatewayHandler.RegisterRoutes(e.Group("/ws/transcribe", limit))
	params.GatewayHandler.RegisterRoutes(api.Group("/ws/transcribe", limit))
}

func ProvideRateLimiter(lc fx.Lifecycle, cfg *Config) *gateway.RateLimiter {
	rl := gateway.NewRateLimiter(gateway.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	})

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go rl.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return rl
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}

func ProvideRecordHandler(store *record.Store, extractor *clinical.PatternExtractor, logger *slog.Logger) *record.Handler {
	return record.NewHandler(store, extractor, logger.With("handler", "record"))
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideRecordHandler,
		ProvideRateLimiter,
	),
	fx.Invoke(RegisterRoutes),
)
