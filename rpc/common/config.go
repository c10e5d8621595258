package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the server util)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to Dragonboat Config
func (c *ServerConfig) ToDragonboatConfig(shardId uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            shardId,
		ElectionRTT:        electionRTTFactor,  // = c.RTTMillisecond * 10
		HeartbeatRTT:       heartbeatRTTFactor, // = c.RTTMillisecond * 1
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// Shard ids served by the RPC server.
const (
	ShardDataService uint64 = 1
	ShardMetaStore   uint64 = 2
)

// MetaMode selects where the synchronized meta records live.
type MetaMode string

const (
	// MetaModeLocal keeps the records in a local store persisted below the root dir.
	MetaModeLocal MetaMode = "local"
	// MetaModeRaft replicates the records over a dragonboat shard.
	MetaModeRaft MetaMode = "raft"
)

// DiscoveryMode selects the device communication provider.
type DiscoveryMode string

const (
	DiscoveryStatic DiscoveryMode = "static"
	DiscoveryRedis  DiscoveryMode = "redis"
)

// ServerTransportConfig holds the listener settings of the server transport.
type ServerTransportConfig struct {
	Endpoint       string
	WorkersPerConn int
	BufferSize     int

	// Socket settings (tcp only)
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
	WriteBufferSize int
	ReadBufferSize  int
}

// DiscoveryConfig configures how remote devices are found.
type DiscoveryConfig struct {
	Mode       DiscoveryMode
	DeviceId   string // empty: random uuid
	DeviceName string
	// Peers are the device ids of the static peer list.
	Peers         []string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// ServerConfig holds all configuration parameters of a kvds server.
type ServerConfig struct {
	// Storage layout
	RootDir     string
	ServiceName string

	// Meta store
	MetaMode MetaMode

	// Dragenboat parameters (raft meta mode)
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// remote kvStore parameters
	TimeoutSecond int64

	// ClientLeaseSecond is how long a client stays alive without a request.
	ClientLeaseSecond int64

	// RPC transport settings
	Transport ServerTransportConfig

	// AdminEndpoint serves health, metrics and dump (empty: disabled)
	AdminEndpoint string

	BackupIntervalSecond int64
	AllowListFile        string
	Discovery            DiscoveryConfig

	// Logging configuration
	LogLevel string
}

// IsRaft reports whether the meta records are replicated.
func (c *ServerConfig) IsRaft() bool {
	return c.MetaMode == MetaModeRaft
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Workers Per Conn", strconv.Itoa(c.Transport.WorkersPerConn))
	addField("Buffer Size", strconv.Itoa(c.Transport.BufferSize))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Client Lease", fmt.Sprintf("%d sec", c.ClientLeaseSecond))
	addField("Admin Endpoint", c.AdminEndpoint)

	// Data service
	addSection("Data Service")
	addField("Root Directory", c.RootDir)
	addField("Service Name", c.ServiceName)
	addField("Backup Interval", fmt.Sprintf("%d sec", c.BackupIntervalSecond))
	addField("Allow-List File", c.AllowListFile)
	addField("Meta Mode", string(c.MetaMode))

	// Discovery
	addSection("Discovery")
	addField("Mode", string(c.Discovery.Mode))
	addField("Device Name", c.Discovery.DeviceName)
	if c.Discovery.Mode == DiscoveryRedis {
		addField("Redis", c.Discovery.RedisAddr)
	} else {
		addField("Peers", strings.Join(c.Discovery.Peers, ", "))
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	if c.IsRaft() {
		// Node Identity
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

		// Storage
		addSection("Storage")
		addField("Data Directory", c.DataDir)

		addSection("Cluster")
		sb.WriteString("  Initial Cluster Members:\n")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConfig holds the connection settings of the client transport.
type ClientTransportConfig struct {
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int

	// Socket settings (tcp only)
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
	WriteBufferSize int
	ReadBufferSize  int
}

type ClientConfig struct {
	TimeoutSecond int
	// HeartbeatSecond is the interval of lease refreshes (0: no heartbeat).
	HeartbeatSecond int
	// PollMillisecond is the interval of device event polls.
	PollMillisecond int
	Transport       ClientTransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Heartbeat", fmt.Sprintf("%d sec", c.HeartbeatSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
