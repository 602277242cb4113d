package cache

import (
	"github.com/ValentinKolb/dCache/cmd/util"
	"github.com/ValentinKolb/dCache/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcCache *client.Client

	// CacheCommands represents the cache command group
	CacheCommands = &cobra.Command{
		Use:                "cache",
		Short:              "Perform cache operations",
		PersistentPreRunE:  setupCacheClient,
		PersistentPostRunE: closeCacheClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the cache command
	util.SetupRPCClientFlags(CacheCommands)

	// Add subcommands
	CacheCommands.AddCommand(addCmd)
	CacheCommands.AddCommand(insertCmd)
	CacheCommands.AddCommand(getCmd)
	CacheCommands.AddCommand(removeCmd)
	CacheCommands.AddCommand(deleteCmd)
	CacheCommands.AddCommand(containsCmd)
	CacheCommands.AddCommand(countCmd)
	CacheCommands.AddCommand(clearCmd)
	CacheCommands.AddCommand(searchCmd)
	CacheCommands.AddCommand(tagCmd)
	CacheCommands.AddCommand(publishCmd)
	CacheCommands.AddCommand(perfTestCmd)
}

// setupCacheClient connects the client to the selected cache
func setupCacheClient(cmd *cobra.Command, _ []string) (err error) {
	rpcCache, err = util.NewClient(cmd)
	return err
}

func closeCacheClient(*cobra.Command, []string) error {
	if rpcCache == nil {
		return nil
	}
	return rpcCache.Close()
}
