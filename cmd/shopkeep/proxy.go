package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/shopkeep/pkg/cache"
	"github.com/pario-ai/shopkeep/pkg/logger"
	"github.com/pario-ai/shopkeep/pkg/proxy"
)

func newProxyCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Start the local proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Proxy.Origin == "" {
				return fmt.Errorf("proxy.origin is not configured")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var c *cache.Cache
			if cfg.Cache.Enabled {
				c, err = openCache(ctx, cfg)
				if err != nil {
					return err
				}
				defer func() { _ = c.Close() }()
			}

			srv := proxy.New(cfg, c)
			logger.WithModule("cli").Info("starting shopkeep proxy", zap.String("config", configPath))
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}
