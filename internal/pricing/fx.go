package pricing

import (
	"github.com/smallbiznis/previsora/internal/pricing/recompute"
	"github.com/smallbiznis/previsora/internal/pricing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pricing",
	fx.Provide(
		service.NewProvider,
		recompute.NewService,
	),
)
