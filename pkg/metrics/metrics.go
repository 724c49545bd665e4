package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RaftIsLeader is 1 when this node believes it is the raft leader, 0
	// otherwise.
	RaftIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mring_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	// RaftTerm is the node's current raft term.
	RaftTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mring_raft_term",
			Help: "Current Raft term",
		},
	)

	// RaftCommitIndex is the highest log index known committed.
	RaftCommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mring_raft_commit_index",
			Help: "Current Raft commit index",
		},
	)

	// RaftAppliedIndex is the highest log index applied to a service.
	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mring_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// RingSize is the configured ring size, or 0 before it is set.
	RingSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mring_ring_size",
			Help: "Configured ring size in vnodes",
		},
	)

	// RelocationsTotal counts vnodes relocated by placement transitions,
	// by the ring operation that produced them.
	RelocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mring_relocations_total",
			Help: "Total vnode relocations computed by the ring service",
		},
		[]string{"operation"},
	)

	// MigrationChunksTotal counts chunks transferred by the migration wire
	// protocol, by role (source/destination).
	MigrationChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mring_migration_chunks_total",
			Help: "Total vnode migration chunks transferred",
		},
		[]string{"role"},
	)

	// MigrationsCompletedTotal counts migrations that finished, by the
	// side this node played in them.
	MigrationsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mring_migrations_completed_total",
			Help: "Total vnode migrations completed, by direction",
		},
		[]string{"direction"},
	)

	// VNodesOwned is the number of vnodes currently resident on this node.
	VNodesOwned = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mring_vnodes_owned",
			Help: "Number of vnodes currently owned by this node",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RaftIsLeader,
		RaftTerm,
		RaftCommitIndex,
		RaftAppliedIndex,
		RingSize,
		RelocationsTotal,
		MigrationChunksTotal,
		MigrationsCompletedTotal,
		VNodesOwned,
	)
}

// Handler serves the registered collectors for a /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
