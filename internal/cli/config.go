package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raodj/musesim/internal/manager"
	"github.com/raodj/musesim/internal/registry"
	"github.com/raodj/musesim/internal/types"
)

// fileConfig mirrors the `run` subcommand's flags for an optional YAML
// config file (spec §6: a config file mirroring the CLI flags, plus
// cluster.peers), so a deployment can check one file into its repo
// instead of a long flag list.
type fileConfig struct {
	ThreadsPerNode  *int     `yaml:"threadsPerNode"`
	MTQueue         *string  `yaml:"mtQueue"`
	MultiMTQueues   *int     `yaml:"multiMtQueues"`
	UseSharedEvents *bool    `yaml:"useSharedEvents"`
	DeallocThresh   *float64 `yaml:"deallocThresh"`
	GVTDelayRate    *int     `yaml:"gvtDelayRate"`
	MaxMPIBatch     *int     `yaml:"maxMpiBatch"`
	SimEndTime      *float64 `yaml:"simEndTime"`

	GridX         *int `yaml:"gridX"`
	GridY         *int `yaml:"gridY"`
	InitialEvents *int `yaml:"initialEvents"`

	MetricsAddr *string `yaml:"metricsAddr"`

	Cluster struct {
		NodeID     *string  `yaml:"nodeId"`
		BindAddr   *string  `yaml:"bindAddr"`
		DataDir    *string  `yaml:"dataDir"`
		Bootstrap  *bool    `yaml:"bootstrap"`
		LeaderAddr *string  `yaml:"leaderAddr"`
		Peers      []string `yaml:"peers"`
		ListenAddr *string  `yaml:"listenAddr"`
	} `yaml:"cluster"`
}

// runOptions is everything run.go's RunE needs to build a
// manager.Config, gathered from flags and optionally overlaid with a
// config file.
type runOptions struct {
	threadsPerNode  int
	mtQueue         string
	multiMTQueues   int
	useSharedEvents bool
	deallocThresh   float64
	gvtDelayRate    int
	maxMPIBatch     int
	simEndTime      float64

	gridX         int
	gridY         int
	initialEvents int

	metricsAddr string

	nodeID     string
	bindAddr   string
	dataDir    string
	bootstrap  bool
	leaderAddr string
	peers      []string
	listenAddr string
}

func bindRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Int("threads-per-node", 4, "worker threads to run on this process")
	flags.String("mt-queue", "multi-blocking", "scheduler queue kind: single-blocking, single-blocking-sl, multi-blocking, multi-blocking-sl, multi-non-blocking")
	flags.Int("multi-mt-queues", 8, "shard count for the sharded scheduler queue")
	flags.Int("use-shared-events", 0, "1 enables the shared-event-arena recycler, 0 a per-node one")
	flags.Float64("dealloc-thresh", 0.5, "target recycled/allocated fraction driving the NUMA redistribution interval, in (0,1]")
	flags.Int("gvt-delay-rate", 10, "GVT rounds started per second")
	flags.Int("max-mpi-batch", 64, "maximum cross-process messages drained per transport poll")
	flags.Float64("simEndTime", 1000, "virtual time at which the run stops")

	flags.Int("grid-x", 4, "PHOLD benchmark grid width")
	flags.Int("grid-y", 4, "PHOLD benchmark grid height")
	flags.Int("initial-events", 4, "PHOLD benchmark self-events scheduled per agent at startup")

	flags.String("metrics-addr", "127.0.0.1:9090", "bind address for the /metrics and /healthz endpoints")

	flags.String("node-id", "", "this process's cluster registry node ID (default: a generated UUID)")
	flags.String("bind-addr", "127.0.0.1:7946", "this process's Raft bind address")
	flags.String("data-dir", "./musesim-data", "Raft log/snapshot directory")
	flags.Bool("bootstrap", true, "bootstrap a new cluster registry rather than joining one")
	flags.String("leader-addr", "", "Raft address of the cluster leader to join (required unless --bootstrap)")
	flags.StringSlice("peers", nil, "rank:host:port entries for the cross-process transport's peers")
	flags.String("listen-addr", "", "this process's inbound cross-process transport address")

	flags.String("config", "", "optional YAML config file; explicit flags override its values")
}

// loadRunOptions reads every run flag, then overlays a config file's
// values for any flag the caller did not set explicitly (cobra's
// Changed reports that), so an explicit flag always wins over the file.
func loadRunOptions(cmd *cobra.Command) (*runOptions, error) {
	flags := cmd.Flags()
	opts := &runOptions{}

	opts.threadsPerNode, _ = flags.GetInt("threads-per-node")
	opts.mtQueue, _ = flags.GetString("mt-queue")
	opts.multiMTQueues, _ = flags.GetInt("multi-mt-queues")
	useShared, _ := flags.GetInt("use-shared-events")
	opts.useSharedEvents = useShared != 0
	opts.deallocThresh, _ = flags.GetFloat64("dealloc-thresh")
	opts.gvtDelayRate, _ = flags.GetInt("gvt-delay-rate")
	opts.maxMPIBatch, _ = flags.GetInt("max-mpi-batch")
	opts.simEndTime, _ = flags.GetFloat64("simEndTime")

	opts.gridX, _ = flags.GetInt("grid-x")
	opts.gridY, _ = flags.GetInt("grid-y")
	opts.initialEvents, _ = flags.GetInt("initial-events")

	opts.metricsAddr, _ = flags.GetString("metrics-addr")

	opts.nodeID, _ = flags.GetString("node-id")
	if opts.nodeID == "" {
		opts.nodeID = uuid.NewString()
	}
	opts.bindAddr, _ = flags.GetString("bind-addr")
	opts.dataDir, _ = flags.GetString("data-dir")
	opts.bootstrap, _ = flags.GetBool("bootstrap")
	opts.leaderAddr, _ = flags.GetString("leader-addr")
	opts.peers, _ = flags.GetStringSlice("peers")
	opts.listenAddr, _ = flags.GetString("listen-addr")

	configPath, _ := flags.GetString("config")
	if configPath == "" {
		return opts, nil
	}

	fc, err := loadFileConfig(configPath)
	if err != nil {
		return nil, err
	}
	overlayFileConfig(opts, fc, flags)
	return opts, nil
}

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cli: reading config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("cli: parsing config file %s: %w", path, err)
	}
	return &fc, nil
}

// overlayFileConfig fills in any field whose flag was not explicitly
// set on the command line from the config file's value, when present.
func overlayFileConfig(opts *runOptions, fc *fileConfig, flags *cobra.FlagSet) {
	set := func(name string, apply func()) {
		if !flags.Changed(name) {
			apply()
		}
	}

	if fc.ThreadsPerNode != nil {
		set("threads-per-node", func() { opts.threadsPerNode = *fc.ThreadsPerNode })
	}
	if fc.MTQueue != nil {
		set("mt-queue", func() { opts.mtQueue = *fc.MTQueue })
	}
	if fc.MultiMTQueues != nil {
		set("multi-mt-queues", func() { opts.multiMTQueues = *fc.MultiMTQueues })
	}
	if fc.UseSharedEvents != nil {
		set("use-shared-events", func() { opts.useSharedEvents = *fc.UseSharedEvents })
	}
	if fc.DeallocThresh != nil {
		set("dealloc-thresh", func() { opts.deallocThresh = *fc.DeallocThresh })
	}
	if fc.GVTDelayRate != nil {
		set("gvt-delay-rate", func() { opts.gvtDelayRate = *fc.GVTDelayRate })
	}
	if fc.MaxMPIBatch != nil {
		set("max-mpi-batch", func() { opts.maxMPIBatch = *fc.MaxMPIBatch })
	}
	if fc.SimEndTime != nil {
		set("simEndTime", func() { opts.simEndTime = *fc.SimEndTime })
	}
	if fc.GridX != nil {
		set("grid-x", func() { opts.gridX = *fc.GridX })
	}
	if fc.GridY != nil {
		set("grid-y", func() { opts.gridY = *fc.GridY })
	}
	if fc.InitialEvents != nil {
		set("initial-events", func() { opts.initialEvents = *fc.InitialEvents })
	}
	if fc.MetricsAddr != nil {
		set("metrics-addr", func() { opts.metricsAddr = *fc.MetricsAddr })
	}
	if fc.Cluster.NodeID != nil {
		set("node-id", func() { opts.nodeID = *fc.Cluster.NodeID })
	}
	if fc.Cluster.BindAddr != nil {
		set("bind-addr", func() { opts.bindAddr = *fc.Cluster.BindAddr })
	}
	if fc.Cluster.DataDir != nil {
		set("data-dir", func() { opts.dataDir = *fc.Cluster.DataDir })
	}
	if fc.Cluster.Bootstrap != nil {
		set("bootstrap", func() { opts.bootstrap = *fc.Cluster.Bootstrap })
	}
	if fc.Cluster.LeaderAddr != nil {
		set("leader-addr", func() { opts.leaderAddr = *fc.Cluster.LeaderAddr })
	}
	if fc.Cluster.ListenAddr != nil {
		set("listen-addr", func() { opts.listenAddr = *fc.Cluster.ListenAddr })
	}
	if len(fc.Cluster.Peers) > 0 {
		set("peers", func() { opts.peers = fc.Cluster.Peers })
	}
}

// runConfigToManagerConfig builds the manager.Config a single-process
// run (or one rank of a multi-process run) needs from parsed options.
func runConfigToManagerConfig(opts *runOptions) (manager.Config, error) {
	queueKind, err := manager.QueueKindFromFlag(opts.mtQueue)
	if err != nil {
		return manager.Config{}, err
	}

	localRanks := make([]int, opts.threadsPerNode)
	for i := range localRanks {
		localRanks[i] = i
	}

	peerAddr, err := parsePeers(opts.peers)
	if err != nil {
		return manager.Config{}, err
	}
	numWorkers := opts.threadsPerNode
	for rank := range peerAddr {
		if rank+1 > numWorkers {
			numWorkers = rank + 1
		}
	}

	cfg := manager.Config{
		LocalRanks:     localRanks,
		NumWorkers:     numWorkers,
		ManagerRank:    0,
		StartTime:      0,
		EndTime:        types.Time(opts.simEndTime),
		QueueKind:      queueKind,
		QueueCapacity:  4096,
		QueueShards:    opts.multiMTQueues,
		MaxPollPerStep: opts.maxMPIBatch,

		UseSharedEvents: opts.useSharedEvents,
		DeallocThresh:   opts.deallocThresh,

		GVTInterval: manager.GVTIntervalFromDelayRate(opts.gvtDelayRate),

		ListenAddr: opts.listenAddr,
		PeerAddr:   peerAddr,
	}

	if opts.nodeID != "" {
		cfg.Registry = registry.Config{
			NodeID:   opts.nodeID,
			BindAddr: opts.bindAddr,
			DataDir:  opts.dataDir,
		}
		cfg.Bootstrap = opts.bootstrap
		cfg.LeaderRaftAddr = opts.leaderAddr
	}

	return cfg, nil
}

// parsePeers turns "rank:host:port" entries (spec §6 "cluster.peers")
// into the rank->address map PeerAddr expects.
func parsePeers(entries []string) (map[int]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	peers := make(map[int]string, len(entries))
	for _, e := range entries {
		var rank int
		var addr string
		n, err := fmt.Sscanf(e, "%d:%s", &rank, &addr)
		if err != nil || n != 2 {
			return nil, fmt.Errorf("cli: invalid --peers entry %q, want rank:host:port", e)
		}
		peers[rank] = addr
	}
	return peers, nil
}
