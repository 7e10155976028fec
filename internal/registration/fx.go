package registration

import (
	"github.com/smallbiznis/vervex/internal/registration/service"
	"go.uber.org/fx"
)

var Module = fx.Module("registration.service",
	fx.Provide(service.NewEnroller),
	fx.Provide(service.New),
)
