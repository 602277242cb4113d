package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dCache/cmd/util"
	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/query"
	"github.com/ValentinKolb/dCache/rpc/client"
	"github.com/spf13/cobra"
)

var (
	addCmd = &cobra.Command{
		Use:   "add [key] [value]",
		Short: "Adds an item, fails if the key exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := itemOptions(cmd)
			if err != nil {
				return err
			}
			version, err := rpcCache.Add(args[0], []byte(args[1]), opts...)
			if err != nil {
				return err
			}
			fmt.Printf("added key=%s, version=%d\n", args[0], version)
			return nil
		},
	}
	insertCmd = &cobra.Command{
		Use:   "insert [key] [value]",
		Short: "Inserts an item, replacing an existing one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := itemOptions(cmd)
			if err != nil {
				return err
			}
			version, err := rpcCache.Insert(args[0], []byte(args[1]), opts...)
			if err != nil {
				return err
			}
			fmt.Printf("inserted key=%s, version=%d\n", args[0], version)
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if meta, _ := cmd.Flags().GetBool("meta"); meta {
				item, err := rpcCache.GetCacheItem(args[0])
				if err != nil {
					return err
				}
				if item == nil {
					fmt.Printf("key=%s, found=false\n", args[0])
					return nil
				}
				fmt.Printf("key=%s, found=true, version=%d, tags=%v, value=%s\n", item.Key, item.Version, item.Tags, item.Bytes())
				return nil
			}
			value, ok, err := rpcCache.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v, value=%s\n", args[0], ok, value)
			return nil
		},
	}
	removeCmd = &cobra.Command{
		Use:   "remove [key]",
		Short: "Removes a key and prints its value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, ok, err := rpcCache.Remove(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, removed=%v, value=%s\n", args[0], ok, value)
			return nil
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [key]",
		Short: "Deletes a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcCache.Delete(args[0]); err != nil {
				return err
			}
			fmt.Println("delete successfully")
			return nil
		},
	}
	containsCmd = &cobra.Command{
		Use:   "contains [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := rpcCache.Contains(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", args[0], found)
			return nil
		},
	}
	countCmd = &cobra.Command{
		Use:   "count",
		Short: "Prints the number of items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := rpcCache.Count()
			if err != nil {
				return err
			}
			fmt.Printf("count=%d\n", n)
			return nil
		},
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Removes all items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := rpcCache.Clear(); err != nil {
				return err
			}
			fmt.Println("clear successfully")
			return nil
		},
	}
	searchCmd = &cobra.Command{
		Use:   "search [query] [name=type:value]...",
		Short: "Runs a query and prints the matching keys",
		Long:  `Runs a query, e.g. search "SELECT Product WHERE price > ?" price=System.Int32:10`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			if entries, _ := cmd.Flags().GetBool("entries"); entries {
				items, err := rpcCache.SearchEntries(args[0], params...)
				if err != nil {
					return err
				}
				for _, it := range items {
					fmt.Printf("key=%s, value=%s\n", it.Key, it.Bytes())
				}
				return nil
			}
			keys, err := rpcCache.Search(args[0], params...)
			if err != nil {
				return err
			}
			fmt.Printf("keys=%v\n", keys)
			return nil
		},
	}
	tagCmd = &cobra.Command{
		Use:   "tag [tag]...",
		Short: "Prints the keys carrying the tags",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmp := cache.TagAll
			if matchAny, _ := cmd.Flags().GetBool("any"); matchAny {
				cmp = cache.TagAny
			}
			if remove, _ := cmd.Flags().GetBool("remove"); remove {
				n, err := rpcCache.RemoveByTag(cmp, args...)
				if err != nil {
					return err
				}
				fmt.Printf("removed=%d\n", n)
				return nil
			}
			keys, err := rpcCache.GetKeysByTag(cmp, args...)
			if err != nil {
				return err
			}
			fmt.Printf("keys=%v\n", keys)
			return nil
		},
	}
	publishCmd = &cobra.Command{
		Use:   "publish [topic] [message]",
		Short: "Publishes a message to a topic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if create, _ := cmd.Flags().GetBool("create"); create {
				if _, err := rpcCache.GetTopic(args[0], true); err != nil {
					return err
				}
			}
			if err := rpcCache.Publish(args[0], "", []byte(args[1]), cache.DeliverAll); err != nil {
				return err
			}
			fmt.Println("publish successfully")
			return nil
		},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{addCmd, insertCmd} {
		cmd.Flags().StringSlice("tags", nil, util.WrapString("Tags of the item"))
		cmd.Flags().Duration("sliding", 0, util.WrapString("Sliding expiration of the item (e.g. 30s)"))
		cmd.Flags().Duration("absolute", 0, util.WrapString("Absolute expiration of the item, relative to now (e.g. 5m)"))
		cmd.Flags().String("group", "", util.WrapString("Group of the item"))
	}
	getCmd.Flags().Bool("meta", false, util.WrapString("Print the item with its metadata"))
	searchCmd.Flags().Bool("entries", false, util.WrapString("Print the matching items instead of their keys"))
	tagCmd.Flags().Bool("any", false, util.WrapString("Match items carrying any of the tags instead of all"))
	tagCmd.Flags().Bool("remove", false, util.WrapString("Remove the matching items"))
	publishCmd.Flags().Bool("create", false, util.WrapString("Create the topic if it does not exist"))
}

// itemOptions reads the item flags of add and insert
func itemOptions(cmd *cobra.Command) ([]client.ItemOption, error) {
	var opts []client.ItemOption
	tags, err := cmd.Flags().GetStringSlice("tags")
	if err != nil {
		return nil, err
	}
	if len(tags) > 0 {
		opts = append(opts, client.WithTags(tags...))
	}
	sliding, _ := cmd.Flags().GetDuration("sliding")
	absolute, _ := cmd.Flags().GetDuration("absolute")
	if sliding > 0 && absolute > 0 {
		return nil, fmt.Errorf("sliding and absolute expiration are mutually exclusive")
	}
	if sliding > 0 {
		opts = append(opts, client.WithSlidingExpiration(sliding))
	}
	if absolute > 0 {
		opts = append(opts, client.WithAbsoluteExpiration(time.Now().Add(absolute)))
	}
	if group, _ := cmd.Flags().GetString("group"); group != "" {
		opts = append(opts, client.WithGroup(group))
	}
	return opts, nil
}

// parseParams parses query parameters of the form name=type:value
func parseParams(args []string) ([]query.Param, error) {
	params := make([]query.Param, 0, len(args))
	for _, arg := range args {
		name, typed, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("invalid parameter %q (expected name=type:value)", arg)
		}
		typeName, value, ok := strings.Cut(typed, ":")
		if !ok {
			return nil, fmt.Errorf("invalid parameter %q (expected name=type:value)", arg)
		}
		params = append(params, client.Param(name, typeName, value))
	}
	return params, nil
}
