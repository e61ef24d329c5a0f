// Package registry implements the Raft-backed cluster registry (spec
// §4.7/§6, C7): the agreed set of participating worker ranks and the
// agent-to-worker partition table every process must settle on before
// Simulate begins. It answers a much narrower question than the
// teacher's WarrenFSM ("what containers exist") — only "what ranks
// exist and which rank owns which agent" — but reuses the same
// Raft/bboltdb bootstrap-and-apply shape: a single-voter cluster for
// single-process runs, AddVoter for multi-process ones, and a
// JSON-encoded FSM snapshot for restarts.
package registry
