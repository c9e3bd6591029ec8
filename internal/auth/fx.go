package auth

import (
	"github.com/smallbiznis/stayledger/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("auth",
	fx.Provide(func(cfg config.Config) (*TokenVerifier, error) {
		return NewTokenVerifier(cfg.AuthJWTSecret, cfg.AuthJWTIssuer)
	}),
)
