package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/shopkeep/pkg/deliverylog"
	"github.com/pario-ai/shopkeep/pkg/logger"
	"github.com/pario-ai/shopkeep/pkg/mcp"
	"github.com/pario-ai/shopkeep/pkg/quota"
)

func newMCPCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve shopkeep tools over MCP on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			log := logger.WithModule("cli")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dl, err := deliverylog.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init delivery log: %w", err)
			}
			defer func() { _ = dl.Close() }()

			opts := []mcp.Option{mcp.WithDeliveries(dl)}

			if cfg.Cache.Enabled {
				c, err := openCache(ctx, cfg)
				if err != nil {
					return err
				}
				defer func() { _ = c.Close() }()
				opts = append(opts, mcp.WithCache(c))
			}
			if cfg.Quota.Enabled {
				opts = append(opts, mcp.WithQuota(quota.New(cfg.Quota.Policies, dl)))
			}
			if cfg.Messaging.Instance != "" {
				svc, err := newMessagingService(cfg, dl)
				if err != nil {
					log.Warn("messaging disabled", zap.Error(err))
				} else {
					opts = append(opts, mcp.WithSender(svc))
				}
			}

			log.Info("mcp server starting")
			return mcp.New(version, opts...).Run(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}
