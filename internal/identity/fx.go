package identity

import (
	"github.com/smallbiznis/vervex/internal/identity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("identity.service",
	fx.Provide(service.NewLocal),
)
