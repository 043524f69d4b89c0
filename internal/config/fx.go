package config

import "go.uber.org/fx"

// Module wires environment config and the hot-reloadable fee policy.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewFeePolicyHolder),
)
