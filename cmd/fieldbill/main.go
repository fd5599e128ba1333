package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/nextgenfiber/fieldbill/internal/audit"
	"github.com/nextgenfiber/fieldbill/internal/authorization"
	"github.com/nextgenfiber/fieldbill/internal/clock"
	"github.com/nextgenfiber/fieldbill/internal/config"
	"github.com/nextgenfiber/fieldbill/internal/events"
	"github.com/nextgenfiber/fieldbill/internal/invoicebatch"
	"github.com/nextgenfiber/fieldbill/internal/migration"
	"github.com/nextgenfiber/fieldbill/internal/notify"
	"github.com/nextgenfiber/fieldbill/internal/observability"
	"github.com/nextgenfiber/fieldbill/internal/productionline"
	"github.com/nextgenfiber/fieldbill/internal/ratecard"
	"github.com/nextgenfiber/fieldbill/internal/reports"
	"github.com/nextgenfiber/fieldbill/internal/seed"
	"github.com/nextgenfiber/fieldbill/internal/server"
	"github.com/nextgenfiber/fieldbill/internal/validation"
	"github.com/nextgenfiber/fieldbill/pkg/db"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		clock.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		db.Module,
		migration.Module,
		seed.Module,
		audit.Module,
		authorization.Module,
		events.Module,
		notify.Module,
		ratecard.Module,
		productionline.Module,
		validation.Module,
		invoicebatch.Module,
		reports.Module,
		server.Module,
	)
	app.Run()
}
