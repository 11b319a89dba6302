// Package tracking wires the attribution record store into the application.
package tracking

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/attribution/internal/clock"
	"github.com/smallbiznis/attribution/internal/config"
	"github.com/smallbiznis/attribution/internal/tracking/identity"
	"github.com/smallbiznis/attribution/internal/tracking/service"
	"github.com/smallbiznis/attribution/internal/tracking/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxTabs = 100_000

var Module = fx.Module("tracking",
	fx.Provide(RegisterSnowflake),
	fx.Provide(identity.NewGenerator),
	fx.Provide(NewTabRegistry),
	fx.Provide(service.New),
	fx.Invoke(RunTabSweeper),
)

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

func NewTabRegistry(clk clock.Clock, log *zap.Logger, policy *config.PolicyHolder) *store.TabRegistry {
	return store.NewTabRegistry(clk, log, func() time.Duration {
		return policy.Current().TabIdleTimeout
	}, maxTabs)
}

func RunTabSweeper(lc fx.Lifecycle, tabs *store.TabRegistry) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go tabs.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}
