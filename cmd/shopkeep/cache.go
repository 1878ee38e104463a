package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/shopkeep/pkg/cache"
	"github.com/pario-ai/shopkeep/pkg/config"
	"github.com/pario-ai/shopkeep/pkg/mirror"
	"github.com/pario-ai/shopkeep/pkg/models"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the local cache",
	}

	// withCache loads config, opens the cache and runs fn against it.
	withCache := func(fn func(ctx context.Context, cfg *config.Config, c *cache.Cache) error) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		ctx := context.Background()
		c, err := openCache(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		return fn(ctx, cfg, c)
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cached stores and their freshness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(func(ctx context.Context, _ *config.Config, c *cache.Cache) error {
				stats := c.Stats(ctx)
				if len(stats.Stores) == 0 {
					fmt.Println("Cache is empty.")
					return nil
				}

				names := make([]string, 0, len(stats.Stores))
				for name := range stats.Stores {
					names = append(names, name)
				}
				sort.Strings(names)

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "STORE\tITEMS\tUPDATED\tFRESH")
				for _, name := range names {
					s := stats.Stores[name]
					fmt.Fprintf(w, "%s\t%d\t%s\t%t\n", name, s.ItemCount, s.LastUpdated.Local().Format(time.DateTime), s.IsValid)
				}
				return w.Flush()
			})
		},
	}

	readCmd := &cobra.Command{
		Use:   "read <store>",
		Short: "Print the fresh records of a store as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(func(ctx context.Context, _ *config.Config, c *cache.Cache) error {
				res := c.Lookup(ctx, args[0])
				if res.Err != nil {
					return res.Err
				}
				if !res.Hit {
					return fmt.Errorf("store %q is not cached or has expired", args[0])
				}
				return printJSON(res.Records)
			})
		},
	}

	var refresh bool
	fetchCmd := &cobra.Command{
		Use:   "fetch <store>",
		Short: "Read a store through the cache, fetching it from the origin on a miss",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(func(ctx context.Context, cfg *config.Config, c *cache.Cache) error {
				sess := newSession(cfg)
				req, err := newRequester(cfg, cfg.Mirror.Route, sess)
				if err != nil {
					return err
				}
				opts := []mirror.Option{mirror.WithPolicy(retryPolicy(cfg))}
				if sess != nil {
					opts = append(opts, mirror.WithAuthRefresh(sess.Refresh))
				}
				m := mirror.New(c, req, cfg.Mirror.Stores, opts...)

				var records []models.Record
				if refresh {
					records, err = m.Refresh(ctx, args[0])
				} else {
					records, err = m.Get(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSON(records)
			})
		},
	}
	fetchCmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cached copy")

	clearCmd := &cobra.Command{
		Use:   "clear [store]",
		Short: "Clear one store, or every store when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(func(ctx context.Context, _ *config.Config, c *cache.Cache) error {
				if len(args) == 1 {
					c.Clear(ctx, args[0])
					fmt.Printf("Store %q cleared.\n", args[0])
					return nil
				}
				c.ClearAll(ctx)
				fmt.Println("All cached stores cleared.")
				return nil
			})
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Destroy and recreate the cache storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(func(ctx context.Context, _ *config.Config, c *cache.Cache) error {
				c.ResetDatabase(ctx)
				if !c.Available() {
					return fmt.Errorf("cache storage could not be recreated")
				}
				fmt.Println("Cache storage reset.")
				return nil
			})
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.AddCommand(statsCmd, readCmd, fetchCmd, clearCmd, resetCmd)
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
