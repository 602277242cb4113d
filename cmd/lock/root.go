package lock

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dCache/cmd/util"
	"github.com/ValentinKolb/dCache/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcCache    *client.Client
	lockTimeout time.Duration

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:                "lock",
		Short:              "Perform item lock operations",
		PersistentPreRunE:  setupLockClient,
		PersistentPostRunE: closeLockClient,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Lock an item",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [key] [lockID]",
		Short: "Release a previously acquired lock",
		Long:  "Release a lock using the key and the lock id printed by the acquire command. Without a lock id the lock is released regardless of its owner.",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runRelease,
	}

	// statusCmd represents the status command
	statusCmd = &cobra.Command{
		Use:   "status [key]",
		Short: "Print the lock state of an item",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add subcommands to lock command
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)
	LockCommands.AddCommand(statusCmd)

	// Add common RPC flags to the lock command
	util.SetupRPCClientFlags(LockCommands)

	// Add flags specific to acquire
	acquireCmd.Flags().DurationVar(&lockTimeout, "lock-timeout", 30*time.Second, "How long the lock is held (0 for no timeout)")
}

// setupLockClient connects the client to the selected cache
func setupLockClient(cmd *cobra.Command, _ []string) (err error) {
	rpcCache, err = util.NewClient(cmd)
	return err
}

func closeLockClient(*cobra.Command, []string) error {
	if rpcCache == nil {
		return nil
	}
	return rpcCache.Close()
}

// runAcquire handles the acquire lock command
func runAcquire(_ *cobra.Command, args []string) error {
	info, err := rpcCache.Lock(args[0], lockTimeout)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %v", err)
	}

	if !info.Locked {
		if info.LockID == "" {
			fmt.Printf("acquired=false (no item with key %s)\n", args[0])
			return nil
		}
		fmt.Printf("acquired=false, heldBy=%s, since=%s\n", info.LockID, info.LockTime.Format(time.RFC3339))
		return nil
	}
	fmt.Printf("acquired=true, lockId=%s\n", info.LockID)
	return nil
}

// runRelease handles the release lock command
func runRelease(_ *cobra.Command, args []string) error {
	lockID := ""
	if len(args) == 2 {
		lockID = args[1]
	}
	if err := rpcCache.Unlock(args[0], lockID); err != nil {
		return fmt.Errorf("failed to release lock: %v", err)
	}
	fmt.Println("released=true")
	return nil
}

// runStatus handles the status command
func runStatus(_ *cobra.Command, args []string) error {
	info, err := rpcCache.IsLocked(args[0])
	if err != nil {
		return err
	}
	if !info.Locked {
		fmt.Printf("key=%s, locked=false\n", args[0])
		return nil
	}
	fmt.Printf("key=%s, locked=true, lockId=%s, since=%s\n", args[0], info.LockID, info.LockTime.Format(time.RFC3339))
	return nil
}
