package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/kvds/cmd/meta"
	"github.com/ValentinKolb/kvds/cmd/serve"
	"github.com/ValentinKolb/kvds/cmd/store"
	"github.com/ValentinKolb/kvds/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "kvds",
		Short: "distributed key-value data service",
		Long: fmt.Sprintf(`kvds (v%s)

A key-value data service that manages per application stores with
encryption, backups and device discovery, reachable over http, tcp or unix sockets.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kvds",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kvds v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(store.StoreCommands)
	RootCmd.AddCommand(meta.MetaCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
