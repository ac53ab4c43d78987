package voicechat

import "go.uber.org/fx"

var Module = fx.Module("voicechat",
	fx.Provide(NewService),
)
