package productionline

import (
	"github.com/nextgenfiber/fieldbill/internal/productionline/service"
	"go.uber.org/fx"
)

var Module = fx.Module("productionline.service",
	fx.Provide(service.NewService),
)
