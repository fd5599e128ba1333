package audit

import (
	"github.com/nextgenfiber/fieldbill/internal/audit/repository"
	"github.com/nextgenfiber/fieldbill/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
