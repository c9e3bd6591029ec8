package listing

import (
	"github.com/smallbiznis/stayledger/internal/listing/repository"
	"github.com/smallbiznis/stayledger/internal/listing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("listing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
