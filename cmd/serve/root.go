package serve

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/kvds/cmd/util"
	"github.com/ValentinKolb/kvds/lib/db/util"
	"github.com/ValentinKolb/kvds/rpc/common"
	"github.com/ValentinKolb/kvds/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the kvds data service",
		Long:    `Start the kvds data service with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is KVDS_<flag> (e.g. KVDS_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	flags := ServeCmd.PersistentFlags()

	// storage layout

	key := "root-dir"
	flags.String(key, "data/kvds", cmdUtil.WrapString("RootDir is the directory below which the stores, backups and meta records of all device accounts are kept"))

	key = "service-name"
	flags.String(key, "kvds", cmdUtil.WrapString("ServiceName is the name of the service directory below the root dir"))

	key = "meta-mode"
	flags.String(key, string(common.MetaModeLocal), cmdUtil.WrapString("Where the synchronized meta records live: local (persisted below the root dir) or raft (replicated between the cluster members)"))

	key = "backup-interval"
	flags.Int64(key, 600, cmdUtil.WrapString("Interval in seconds of the backup scheduler"))

	key = "allow-list"
	flags.String(key, "", cmdUtil.WrapString("Optional YAML file with the system service, trusted and auto launch bundles. The built in lists are used if empty"))

	// raft

	key = "rtt-millisecond"
	flags.Int(key, 100, cmdUtil.WrapString("(raft meta mode) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. \nOther raft configuration parameters (ElectionRTT=value/10, HeartbeatRTT=value/100) are derived from this value"))

	key = "snapshot-entries"
	flags.Int(key, 10, cmdUtil.WrapString("(raft meta mode) SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	flags.Int(key, 5, cmdUtil.WrapString("(raft meta mode) CompactionOverhead defines the number of snapshots that should be retained in the system. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	flags.String(key, "data/raft", cmdUtil.WrapString("(raft meta mode) DataDir is the directory used for storing the raft logs and snapshots"))

	key = "replica-id"
	flags.String(key, "", cmdUtil.WrapString("(raft meta mode) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	flags.String(key, "", cmdUtil.WrapString("(raft meta mode) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	flags.Int64(key, 5, cmdUtil.WrapString("(raft meta mode) Timeout in seconds of replicated meta operations"))

	// clients

	key = "client-lease"
	flags.Int64(key, 10, cmdUtil.WrapString("Seconds a client stays alive without a request. When the lease runs out the stores of its apps are released"))

	// transport

	key = "endpoint"
	flags.String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the data service will listen (e.g. localhost:8080, /tmp/kvds.sock, ...)"))

	key = "workers-per-conn"
	flags.Int(key, 8, cmdUtil.WrapString("Number of requests handled in parallel per connection (tcp and unix)"))

	key = "buffer-size"
	flags.Int(key, 512, cmdUtil.WrapString("Size of the request buffers in KB (tcp and unix)"))

	key = "transport-tcp-nodelay"
	flags.Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "transport-tcp-keepalive"
	flags.Int(key, 0, cmdUtil.WrapString("The keepalive interval in seconds (only for tcp)"))

	key = "transport-tcp-linger"
	flags.Int(key, -1, cmdUtil.WrapString("The linger time in seconds (only for tcp, negative keeps the OS default)"))

	key = "transport-write-buffer"
	flags.Int(key, 512, cmdUtil.WrapString("The size of the socket write buffer in KB (only for tcp)"))

	key = "transport-read-buffer"
	flags.Int(key, 512, cmdUtil.WrapString("The size of the socket read buffer in KB (only for tcp)"))

	key = "admin-endpoint"
	flags.String(key, "", cmdUtil.WrapString("Optional address of the admin endpoint serving health, metrics and a dump of the open stores (e.g. localhost:9090)"))

	// devices

	key = "discovery"
	flags.String(key, string(common.DiscoveryStatic), cmdUtil.WrapString("How remote devices are found: static (peer list) or redis (presence keys and pub/sub)"))

	key = "device-id"
	flags.String(key, "", cmdUtil.WrapString("Id of this device, a random id is used if empty"))

	key = "device-name"
	flags.String(key, "", cmdUtil.WrapString("Name of this device, the hostname is used if empty"))

	key = "peers"
	flags.String(key, "", cmdUtil.WrapString("(static discovery) Comma-separated list of peer device ids"))

	key = "redis-addr"
	flags.String(key, "localhost:6379", cmdUtil.WrapString("(redis discovery) Address of the redis server"))

	key = "redis-password"
	flags.String(key, "", cmdUtil.WrapString("(redis discovery) Password of the redis server"))

	key = "redis-db"
	flags.Int(key, 0, cmdUtil.WrapString("(redis discovery) Database of the redis server"))

	key = "log-level"
	flags.String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.RootDir = viper.GetString("root-dir")
	serveCmdConfig.ServiceName = viper.GetString("service-name")
	serveCmdConfig.BackupIntervalSecond = viper.GetInt64("backup-interval")
	serveCmdConfig.AllowListFile = viper.GetString("allow-list")
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.ClientLeaseSecond = viper.GetInt64("client-lease")
	serveCmdConfig.AdminEndpoint = viper.GetString("admin-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Transport = common.ServerTransportConfig{
		Endpoint:        viper.GetString("endpoint"),
		WorkersPerConn:  viper.GetInt("workers-per-conn"),
		BufferSize:      viper.GetInt("buffer-size") * 1024,
		TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
		TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
		WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
	}

	// parse the discovery
	serveCmdConfig.Discovery = common.DiscoveryConfig{
		Mode:          common.DiscoveryMode(viper.GetString("discovery")),
		DeviceId:      viper.GetString("device-id"),
		DeviceName:    viper.GetString("device-name"),
		RedisAddr:     viper.GetString("redis-addr"),
		RedisPassword: viper.GetString("redis-password"),
		RedisDB:       viper.GetInt("redis-db"),
	}
	switch serveCmdConfig.Discovery.Mode {
	case common.DiscoveryStatic, common.DiscoveryRedis:
	default:
		return fmt.Errorf("invalid discovery: %s (expected one of: static, redis)", serveCmdConfig.Discovery.Mode)
	}
	if peers := viper.GetString("peers"); peers != "" {
		for _, p := range strings.Split(peers, ",") {
			serveCmdConfig.Discovery.Peers = append(serveCmdConfig.Discovery.Peers, strings.TrimSpace(p))
		}
	}

	// parse the meta mode
	serveCmdConfig.MetaMode = common.MetaMode(viper.GetString("meta-mode"))
	switch serveCmdConfig.MetaMode {
	case common.MetaModeLocal:
		return nil
	case common.MetaModeRaft:
	default:
		return fmt.Errorf("invalid meta mode: %s (expected one of: local, raft)", serveCmdConfig.MetaMode)
	}

	// parse replica id
	id := viper.GetString("replica-id")
	if id == "" {
		return fmt.Errorf("ReplicaId is required in raft meta mode")
	}
	serveCmdConfig.ReplicaID = util.ReplicaId(id)

	// parse cluster members
	clusterMembers := viper.GetString("cluster-members")
	if clusterMembers == "" {
		return fmt.Errorf("ClusterMembers is required in raft meta mode")
	}
	serveCmdConfig.ClusterMembers = make(map[uint64]string)
	for _, member := range strings.Split(clusterMembers, ",") {
		parts := strings.Split(member, "=")
		if len(parts) != 2 {
			return fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		serveCmdConfig.ClusterMembers[util.ReplicaId(parts[0])] = parts[1]
	}

	// test if the replica id is in the cluster members
	if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok {
		return fmt.Errorf("no address found for replica ID %d in cluster members", serveCmdConfig.ReplicaID)
	}

	return nil
}

// run starts the kvds server and stops it on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
	)

	return serv.Serve(ctx)
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	cmdUtil.InitClientConfig()
}
