package validation

import (
	"github.com/nextgenfiber/fieldbill/internal/validation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("validation.service",
	fx.Provide(service.NewService),
)
