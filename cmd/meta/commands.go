package meta

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the meta record of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if resp, ok, err := rpcStore.Get(key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, found=%v, value=%s\n", key, ok, resp)
			}
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a meta record exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if found, err := rpcStore.Has(key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, found=%t\n", key, found)
			}
			return nil
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan [prefix]",
		Short: "Lists the meta records whose key starts with prefix (e.g. KvStoreMetaData###)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			entries, err := rpcStore.Scan(prefix)
			if err != nil {
				return err
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
			for _, e := range entries {
				if keysOnly, _ := cmd.Flags().GetBool("keys"); keysOnly {
					fmt.Println(e.Key)
					continue
				}
				fmt.Printf("%s=%s\n", e.Key, e.Value)
			}
			fmt.Printf("%d records\n", len(entries))
			return nil
		},
	}
)

func init() {
	scanCmd.Flags().Bool("keys", false, "Only print the keys")
}
