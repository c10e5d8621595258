package meta

import (
	"github.com/ValentinKolb/kvds/cmd/util"
	"github.com/ValentinKolb/kvds/lib/store"
	"github.com/ValentinKolb/kvds/rpc/client"
	"github.com/ValentinKolb/kvds/rpc/common"
	"github.com/spf13/cobra"
)

var (
	rpcStore store.IStore

	// MetaCommands represents the meta command group
	MetaCommands = &cobra.Command{
		Use:               "meta",
		Short:             "Inspect the synchronized meta records (read only)",
		PersistentPreRunE: setupMetaClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags to the meta command
	util.SetupRPCClientFlags(MetaCommands)

	// Add subcommands
	MetaCommands.AddCommand(getCmd)
	MetaCommands.AddCommand(hasCmd)
	MetaCommands.AddCommand(scanCmd)
}

// setupMetaClient initializes the RPC store client of the meta shard
func setupMetaClient(cmd *cobra.Command, _ []string) error {
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

	rpcStore, err = client.NewRPCStore(
		common.ShardMetaStore,
		*util.GetClientConfig(),
		t,
		s,
	)

	return err
}
