package gen

import (
	"fleetops-controlplane/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("snowflake", fx.Provide(NewNode))

// NewNode builds the id generator for this process. SNOWFLAKE_NODE must be
// unique per running instance.
func NewNode(cfg *config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		zap.L().Error("failed to init snowflake node", zap.Int64("node", cfg.SnowflakeNode), zap.Error(err))
		return nil, err
	}
	return node, nil
}
