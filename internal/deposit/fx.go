package deposit

import (
	"github.com/smallbiznis/stayledger/internal/deposit/repository"
	"github.com/smallbiznis/stayledger/internal/deposit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("deposit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
