package member

import (
	"github.com/smallbiznis/previsora/internal/member/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("member",
	fx.Provide(repository.NewRepository),
)
