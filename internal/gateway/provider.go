package gateway

import (
	"log/slog"

	"github.com/eleven-am/scribe-backend/internal/scribe"
	"go.uber.org/fx"
)

func ProvideHandler(registry *scribe.Registry, logger *slog.Logger) *Handler {
	return NewHandler(registry, logger.With("handler", "gateway"))
}

var Module = fx.Options(
	fx.Provide(ProvideHandler),
)
