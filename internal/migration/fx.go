package migration

import (
	"github.com/smallbiznis/previsora/internal/config"
	ledgerdomain "github.com/smallbiznis/previsora/internal/ledger/domain"
	memberdomain "github.com/smallbiznis/previsora/internal/member/domain"
	"github.com/smallbiznis/previsora/internal/outbox"
	paymentdomain "github.com/smallbiznis/previsora/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/previsora/internal/pricing/domain"
	receiptdomain "github.com/smallbiznis/previsora/internal/receipt/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// Versioned SQL migrations target postgres; other dialects are
			// dev and test setups where the model schema is authoritative.
			return conn.AutoMigrate(
				&memberdomain.Member{},
				&paymentdomain.Payment{},
				&paymentdomain.Allocation{},
				&ledgerdomain.Entry{},
				&receiptdomain.Receipt{},
				&receiptdomain.Sequence{},
				&outbox.Event{},
				&pricingdomain.BillingSetting{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
