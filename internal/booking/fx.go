package booking

import (
	"github.com/smallbiznis/stayledger/internal/booking/repository"
	"github.com/smallbiznis/stayledger/internal/booking/service"
	"go.uber.org/fx"
)

var Module = fx.Module("booking.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
