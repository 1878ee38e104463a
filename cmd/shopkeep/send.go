package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/shopkeep/pkg/config"
	"github.com/pario-ai/shopkeep/pkg/deliverylog"
	"github.com/pario-ai/shopkeep/pkg/messaging"
	"github.com/pario-ai/shopkeep/pkg/models"
	"github.com/pario-ai/shopkeep/pkg/quota"
)

func newSendCmd() *cobra.Command {
	var (
		configPath string
		batchFile  string
	)

	cmd := &cobra.Command{
		Use:   "send [phone] [text...]",
		Short: "Send a notification, or a batch of them with --file",
		Args: func(cmd *cobra.Command, args []string) error {
			if batchFile != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.MinimumNArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			var msgs []models.Message
			if batchFile != "" {
				if msgs, err = readBatch(batchFile); err != nil {
					return err
				}
			} else {
				msgs = []models.Message{{ChatID: args[0], Text: strings.Join(args[1:], " ")}}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dl, err := deliverylog.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init delivery log: %w", err)
			}
			defer func() { _ = dl.Close() }()

			svc, err := newMessagingService(cfg, dl)
			if err != nil {
				return err
			}

			results := svc.SendBatch(ctx, msgs, cfg.Messaging.Gap)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHAT\tRESULT\tATTEMPTS\tDETAIL")
			failed := 0
			for i, res := range results {
				if res.Success {
					fmt.Fprintf(w, "%s\tsent\t%d\t%s\n", msgs[i].ChatID, res.Attempts, string(res.Data))
					continue
				}
				failed++
				fmt.Fprintf(w, "%s\tfailed\t%d\t%v\n", msgs[i].ChatID, res.Attempts, res.Err)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d messages not delivered", failed, len(msgs))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().StringVarP(&batchFile, "file", "f", "", "JSON file with an array of {chat_id, text} messages")
	return cmd
}

// newMessagingService wires the messaging service with its requester,
// delivery log, quota guard and session refresh.
func newMessagingService(cfg *config.Config, dl deliverylog.Log) (*messaging.Service, error) {
	sess := newSession(cfg)
	req, err := newRequester(cfg, cfg.Messaging.Route, sess)
	if err != nil {
		return nil, err
	}

	opts := []messaging.Option{
		messaging.WithPolicy(retryPolicy(cfg)),
		messaging.WithRecorder(dl),
	}
	if cfg.Quota.Enabled {
		opts = append(opts, messaging.WithQuota(quota.New(cfg.Quota.Policies, dl)))
	}
	if sess != nil {
		opts = append(opts, messaging.WithAuthRefresh(sess.Refresh))
	}

	return messaging.New(req, cfg.Messaging.Instance, cfg.Messaging.Token, opts...), nil
}

func readBatch(path string) ([]models.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	var msgs []models.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("parse batch: %w", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("batch %s is empty", path)
	}
	return msgs, nil
}
