package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall time so grace-day and cache-TTL logic is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func NewSystemClock() Clock { return systemClock{} }

var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
