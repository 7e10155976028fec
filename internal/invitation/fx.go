package invitation

import (
	"github.com/smallbiznis/vervex/internal/invitation/repository"
	"github.com/smallbiznis/vervex/internal/invitation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invitation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
