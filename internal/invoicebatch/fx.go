package invoicebatch

import (
	"github.com/nextgenfiber/fieldbill/internal/invoicebatch/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoicebatch.service",
	fx.Provide(service.NewService),
)
