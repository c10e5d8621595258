package store

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/kvds/cmd/util"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	ds  *client.DataServiceClient
	ctx context.Context

	// StoreCommands represents the store command group
	StoreCommands = &cobra.Command{
		Use:                "store",
		Short:              "Open and use the stores of an app",
		PersistentPreRunE:  setupDataServiceClient,
		PersistentPostRunE: closeDataServiceClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags to the store command
	util.SetupRPCClientFlags(StoreCommands)

	flags := StoreCommands.PersistentFlags()
	flags.String("app", "", util.WrapString("Bundle name of the app owning the stores"))
	flags.String("store", "", util.WrapString("Id of the store"))
	flags.String("type", "single", util.WrapString("Type of the store when it is created: single, multi or collaboration"))
	flags.Bool("encrypt", false, util.WrapString("Encrypt the store when it is created"))
	flags.Int("security-level", int(kvstore.NoLabel), util.WrapString("Security level of the store when it is created (0: no label, 1: S0 ... 6: S4)"))
	flags.Bool("create", true, util.WrapString("Create the store if it does not exist"))

	// Add subcommands
	StoreCommands.AddCommand(putCmd)
	StoreCommands.AddCommand(getCmd)
	StoreCommands.AddCommand(delCmd)
	StoreCommands.AddCommand(listCmd)
	StoreCommands.AddCommand(idsCmd)
	StoreCommands.AddCommand(closeCmd)
	StoreCommands.AddCommand(deleteCmd)
	StoreCommands.AddCommand(exitCmd)
	StoreCommands.AddCommand(devicesCmd)
	StoreCommands.AddCommand(benchCmd)
}

// setupDataServiceClient connects the data service client
func setupDataServiceClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	ctx = util.CallerContext()
	ds, err = client.NewDataServiceClient(*util.GetClientConfig(), t, s)
	return err
}

func closeDataServiceClient(*cobra.Command, []string) error {
	if ds == nil {
		return nil
	}
	return ds.Close()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func appId() (kvstore.AppId, error) {
	app := viper.GetString("app")
	if app == "" {
		return "", fmt.Errorf("--app is required")
	}
	return kvstore.AppId(app), nil
}

func storeId() (kvstore.AppId, kvstore.StoreId, error) {
	app, err := appId()
	if err != nil {
		return "", "", err
	}
	id := viper.GetString("store")
	if id == "" {
		return "", "", fmt.Errorf("--store is required")
	}
	return app, kvstore.StoreId(id), nil
}

func options() (kvstore.Options, error) {
	o := kvstore.DefaultOptions()
	o.CreateIfMissing = viper.GetBool("create")
	o.Encrypt = viper.GetBool("encrypt")
	o.SecurityLevel = kvstore.SecurityLevel(viper.GetInt("security-level"))
	switch viper.GetString("type") {
	case "single":
		o.KvStoreType = kvstore.SingleVersion
	case "multi":
		o.KvStoreType = kvstore.MultiVersion
	case "collaboration":
		o.KvStoreType = kvstore.DeviceCollaboration
	default:
		return o, fmt.Errorf("invalid store type %s (expected one of: single, multi, collaboration)", viper.GetString("type"))
	}
	return o, nil
}

// withStore opens the configured store, runs fn and closes the store again
func withStore(fn func(s kvstore.IKvStore) error) error {
	app, id, err := storeId()
	if err != nil {
		return err
	}
	o, err := options()
	if err != nil {
		return err
	}

	var s kvstore.IKvStore
	status := ds.GetKvStore(ctx, o, app, id, func(h kvstore.IKvStore) { s = h })
	if err := util.StatusError("open", status); err != nil {
		return err
	}
	defer func() {
		if status := ds.CloseKvStore(ctx, app, id); !status.IsSuccess() {
			fmt.Printf("close failed: %s\n", status)
		}
	}()
	return fn(s)
}
