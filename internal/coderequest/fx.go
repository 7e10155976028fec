package coderequest

import (
	"github.com/smallbiznis/vervex/internal/coderequest/repository"
	"github.com/smallbiznis/vervex/internal/coderequest/service"
	"go.uber.org/fx"
)

var Module = fx.Module("coderequest.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
