package cli

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestParsePeersParsesRankHostPort(t *testing.T) {
	peers, err := parsePeers([]string{"1:10.0.0.2:9001", "2:10.0.0.3:9001"})
	require.NoError(t, err)
	require.Equal(t, "10.0.0.2:9001", peers[1])
	require.Equal(t, "10.0.0.3:9001", peers[2])
}

func TestParsePeersRejectsMalformedEntry(t *testing.T) {
	_, err := parsePeers([]string{"not-a-peer"})
	require.Error(t, err)
}

func TestParsePeersEmptyReturnsNil(t *testing.T) {
	peers, err := parsePeers(nil)
	require.NoError(t, err)
	require.Nil(t, peers)
}

func TestRunConfigToManagerConfigBuildsLocalRanks(t *testing.T) {
	opts := &runOptions{
		threadsPerNode: 3,
		mtQueue:        "multi-blocking",
		multiMTQueues:  4,
		maxMPIBatch:    16,
		simEndTime:     100,
		nodeID:         "n1",
	}

	cfg, err := runConfigToManagerConfig(opts)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, cfg.LocalRanks)
	require.Equal(t, 3, cfg.NumWorkers)
	require.Equal(t, "n1", cfg.Registry.NodeID)
}

func TestRunConfigToManagerConfigRejectsUnknownQueueKind(t *testing.T) {
	opts := &runOptions{threadsPerNode: 1, mtQueue: "bogus"}
	_, err := runConfigToManagerConfig(opts)
	require.Error(t, err)
}

func TestRunConfigToManagerConfigExpandsNumWorkersForPeers(t *testing.T) {
	opts := &runOptions{
		threadsPerNode: 1,
		mtQueue:        "multi-blocking",
		peers:          []string{"3:10.0.0.9:9001"},
	}
	cfg, err := runConfigToManagerConfig(opts)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.NumWorkers)
	require.Equal(t, "10.0.0.9:9001", cfg.PeerAddr[3])
}

func TestOverlayFileConfigOnlyFillsUnsetFlags(t *testing.T) {
	cmd := &cobra.Command{}
	bindRunFlags(cmd)
	require.NoError(t, cmd.Flags().Set("threads-per-node", "7"))

	opts := &runOptions{threadsPerNode: 7, mtQueue: "multi-blocking"}

	threads := 2
	mtQueue := "single-blocking"
	fc := &fileConfig{ThreadsPerNode: &threads, MTQueue: &mtQueue}
	overlayFileConfig(opts, fc, cmd.Flags())

	require.Equal(t, 7, opts.threadsPerNode) // explicit flag wins
	require.Equal(t, "single-blocking", opts.mtQueue) // file fills unset flag
}
