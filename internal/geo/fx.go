package geo

import (
	"github.com/smallbiznis/attribution/internal/tracking/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("geo",
	fx.Provide(
		fx.Annotate(NewLocator, fx.As(new(domain.Locator))),
	),
)
