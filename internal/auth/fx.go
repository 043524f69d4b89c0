package auth

import (
	authdomain "github.com/sahayak-app/sahayak/internal/auth/domain"
	"github.com/sahayak-app/sahayak/internal/auth/token"
	"github.com/sahayak-app/sahayak/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("auth",
	fx.Provide(func(cfg config.Config) authdomain.Verifier {
		return token.NewVerifier(cfg.AuthTokenSecret)
	}),
)
