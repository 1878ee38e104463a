package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pario-ai/shopkeep/pkg/logger"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "shopkeep",
		Short:         "shopkeep: local cache, fallback requests and notifications for the shop",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newProxyCmd(),
		newSendCmd(),
		newDeliveriesCmd(),
		newCacheCmd(),
		newMCPCmd(),
	)

	err := root.Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
