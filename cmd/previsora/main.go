package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/previsora/internal/autodebit"
	"github.com/smallbiznis/previsora/internal/clock"
	"github.com/smallbiznis/previsora/internal/config"
	"github.com/smallbiznis/previsora/internal/debt"
	"github.com/smallbiznis/previsora/internal/ledger"
	"github.com/smallbiznis/previsora/internal/logger"
	"github.com/smallbiznis/previsora/internal/member"
	"github.com/smallbiznis/previsora/internal/migration"
	"github.com/smallbiznis/previsora/internal/outbox"
	"github.com/smallbiznis/previsora/internal/payment"
	"github.com/smallbiznis/previsora/internal/pricing"
	"github.com/smallbiznis/previsora/internal/providers/pdf"
	receiptservice "github.com/smallbiznis/previsora/internal/receipt/service"
	"github.com/smallbiznis/previsora/internal/server"
	"github.com/smallbiznis/previsora/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		fx.Provide(config.Load),
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		member.Module,
		pricing.Module,
		debt.Module,
		ledger.Module,
		pdf.Module,
		receiptservice.Module,
		outbox.Module,
		payment.Module,
		autodebit.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
