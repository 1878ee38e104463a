package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/shopkeep/pkg/deliverylog"
	"github.com/pario-ai/shopkeep/pkg/models"
	"github.com/pario-ai/shopkeep/pkg/quota"
)

func newDeliveriesCmd() *cobra.Command {
	var (
		configPath string
		chatID     string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "List recent notification deliveries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			dl, err := deliverylog.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = dl.Close() }()

			records, err := dl.Query(context.Background(), models.DeliveryQuery{
				ChatID: chatID,
				Status: models.DeliveryStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No deliveries recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tCHAT\tSTATUS\tTRANSPORT\tATTEMPTS\tERROR")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					r.CreatedAt.Local().Format(time.DateTime), r.ChatID, r.Status, r.Transport, r.Attempts, r.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "filter by chat ID")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (sent|failed|rejected)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of rows")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-day delivery counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			dl, err := deliverylog.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = dl.Close() }()

			stats, err := dl.Stats(context.Background())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DAY\tSTATUS\tCOUNT")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%s\t%d\n", s.Day, s.Status, s.Count)
			}
			return w.Flush()
		},
	}

	var quotaChat string
	quotaCmd := &cobra.Command{
		Use:   "quota",
		Short: "Show message quota usage vs limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if !cfg.Quota.Enabled {
				fmt.Println("Quota enforcement is disabled.")
				return nil
			}
			dl, err := deliverylog.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = dl.Close() }()

			chat := quotaChat
			if chat == "" {
				chat = deliverylog.AllChats
			}
			statuses, err := quota.New(cfg.Quota.Policies, dl).Status(context.Background(), chat)
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Println("No quota policies found for this chat.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHAT\tPERIOD\tMAX\tUSED\tREMAINING")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
					s.Policy.ChatID, s.Policy.Period, s.Policy.MaxMessages, s.Used, s.Remaining)
			}
			return w.Flush()
		},
	}
	quotaCmd.Flags().StringVar(&quotaChat, "chat", "", "chat ID (default: all chats)")

	var olderThan time.Duration
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old delivery records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			dl, err := deliverylog.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = dl.Close() }()

			n, err := dl.Cleanup(context.Background(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d delivery records.\n", n)
			return nil
		},
	}
	pruneCmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "age of records to delete")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.AddCommand(statsCmd, quotaCmd, pruneCmd)
	return cmd
}
