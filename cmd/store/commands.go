package store

import (
	"fmt"

	"github.com/ValentinKolb/kvds/cmd/util"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s kvstore.IKvStore) error {
				if err := util.StatusError("put", s.Put(args[0], []byte(args[1]))); err != nil {
					return err
				}
				fmt.Println("put successfully")
				return nil
			})
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s kvstore.IKvStore) error {
				value, status := s.Get(args[0])
				fmt.Printf("key=%s, status=%s, value=%s\n", args[0], status, value)
				return nil
			})
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]...",
		Short: "Deletes key value pairs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s kvstore.IKvStore) error {
				if err := util.StatusError("delete", s.DeleteBatch(args)); err != nil {
					return err
				}
				fmt.Println("delete successfully")
				return nil
			})
		},
	}
	listCmd = &cobra.Command{
		Use:   "list [prefix]",
		Short: "Lists the entries whose key starts with prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return withStore(func(s kvstore.IKvStore) error {
				entries, status := s.GetEntries(prefix)
				if err := util.StatusError("list", status); err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Printf("%s=%s\n", e.Key, e.Value)
				}
				fmt.Printf("%d entries\n", len(entries))
				return nil
			})
		},
	}
	idsCmd = &cobra.Command{
		Use:   "ids",
		Short: "Lists the store ids of an app",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appId()
			if err != nil {
				return err
			}
			var status kvstore.Status
			ds.GetAllKvStoreId(ctx, app, func(st kvstore.Status, ids []kvstore.StoreId) {
				status = st
				for _, id := range ids {
					fmt.Println(id)
				}
			})
			return util.StatusError("list store ids", status)
		},
	}
	closeCmd = &cobra.Command{
		Use:   "close",
		Short: "Closes a store, or every store of the app without --store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appId()
			if err != nil {
				return err
			}
			id := viper.GetString("store")
			if id == "" {
				return util.StatusError("close all", ds.CloseAllKvStore(ctx, app))
			}
			return util.StatusError("close", ds.CloseKvStore(ctx, app, kvstore.StoreId(id)))
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete",
		Short: "Deletes a store with its backups and meta data, or every store of the app without --store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appId()
			if err != nil {
				return err
			}
			id := viper.GetString("store")
			if id == "" {
				return util.StatusError("delete all", ds.DeleteAllKvStore(ctx, app))
			}
			return util.StatusError("delete", ds.DeleteKvStore(ctx, app, kvstore.StoreId(id)))
		},
	}
	exitCmd = &cobra.Command{
		Use:   "exit",
		Short: "Releases everything the service holds for an app",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appId()
			if err != nil {
				return err
			}
			return util.StatusError("app exit", ds.AppExit(ctx, app))
		},
	}
	devicesCmd = &cobra.Command{
		Use:   "devices",
		Short: "Prints the local device and the online remote devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			local, status := ds.GetLocalDevice(ctx)
			if err := util.StatusError("get local device", status); err != nil {
				return err
			}
			fmt.Printf("local  %s (%s)\n", local.DeviceId, local.DeviceName)

			remote, status := ds.GetDeviceList(ctx, kvstore.NoFilter)
			if err := util.StatusError("get device list", status); err != nil {
				return err
			}
			for _, d := range remote {
				fmt.Printf("remote %s (%s)\n", d.DeviceId, d.DeviceName)
			}
			return nil
		},
	}
)
