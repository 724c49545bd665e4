package vnode

import (
	"github.com/ringcluster/mring/pkg/ids"
	"github.com/ringcluster/mring/pkg/metrics"
	"github.com/rs/zerolog"
)

// MigrationRunner drives one migration's wire protocol in its own
// goroutine. Implementations read vnode data by sending
// GetMigrationDataCmd on cnc and report completion via FinishMigrationCmd
// or CancelMigrationCmd. pkg/migrate implements this.
type MigrationRunner interface {
	Run(target string, vnode uint64, cnc chan<- Cmd)
}

// Manager is the single-threaded owner of every vnode resident on this
// node. All mutation happens on the goroutine running Run; callers only
// ever see it through the Task channel they feed it.
type Manager struct {
	nodeID   string
	migrator MigrationRunner
	log      zerolog.Logger

	vnodes map[uint64]*ids.VNode
}

// NewManager builds a manager for the node identified by nodeID (the
// address this node is recorded under in other nodes' Migration.Partner
// fields and in vnode ownership history).
func NewManager(nodeID string, migrator MigrationRunner, log zerolog.Logger) *Manager {
	return &Manager{
		nodeID:   nodeID,
		migrator: migrator,
		log:      log.With().Str("component", "vnode").Logger(),
		vnodes:   make(map[uint64]*ids.VNode),
	}
}

// Snapshot returns a point-in-time copy of the vnode table, for status
// reporting. It must not be called from the Run goroutine.
func (m *Manager) Snapshot() map[uint64]ids.VNode {
	out := make(map[uint64]ids.VNode, len(m.vnodes))
	for id, v := range m.vnodes {
		out[id] = *v
	}
	return out
}

// Run drains tasks until it is closed, dispatching each task and every
// command raised by in-flight migrations on the same goroutine. It
// returns when tasks is closed, per the documented shutdown contract.
func (m *Manager) Run(tasks <-chan Task) {
	cncIn, cncOut := unbounded[Cmd]()

	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				return
			}
			m.handleTask(task, cncIn)
		case cmd := <-cncOut:
			m.handleCmd(cmd, cncIn)
		}
		metrics.VNodesOwned.Set(float64(len(m.vnodes)))
	}
}

func (m *Manager) handleTask(task Task, cnc chan<- Cmd) {
	switch t := task.(type) {
	case AssignTask:
		for _, id := range t.VNodes {
			if _, exists := m.vnodes[id]; exists {
				m.log.Warn().Uint64("vnode", id).Msg("assign: vnode already present, dropping")
				continue
			}
			m.vnodes[id] = &ids.VNode{ID: id, Data: []string{m.nodeID}}
		}

	case MigrateOutTask:
		v, ok := m.vnodes[t.VNode]
		if !ok || v.Migration != nil {
			m.log.Warn().Uint64("vnode", t.VNode).Msg("migrate-out: invariant violation, dropping")
			return
		}
		v.Migration = &ids.Migration{Partner: t.Target, Chunk: 0, Direction: ids.Outbound}
		go m.migrator.Run(t.Target, t.VNode, cnc)

	case MigrateInStartTask:
		if _, exists := m.vnodes[t.VNode]; exists {
			m.log.Warn().Uint64("vnode", t.VNode).Msg("migrate-in-start: vnode already present, dropping")
			return
		}
		m.vnodes[t.VNode] = &ids.VNode{
			ID:        t.VNode,
			Migration: &ids.Migration{Partner: t.Src, Chunk: 0, Direction: ids.Inbound},
		}

	case MigrateInTask:
		v, ok := m.vnodes[t.VNode]
		if !ok || v.Migration == nil || v.Migration.Direction != ids.Inbound || v.Migration.Chunk != t.Chunk {
			m.log.Warn().Uint64("vnode", t.VNode).Uint64("chunk", t.Chunk).Msg("migrate-in: invariant violation, dropping")
			return
		}
		v.Data = append(v.Data, t.Data...)
		v.Migration.Chunk++

	case MigrateInEndTask:
		v, ok := m.vnodes[t.VNode]
		if !ok || v.Migration == nil || v.Migration.Direction != ids.Inbound {
			m.log.Warn().Uint64("vnode", t.VNode).Msg("migrate-in-end: invariant violation, dropping")
			return
		}
		v.Migration = nil
		v.Data = append(v.Data, m.nodeID)

	default:
		m.log.Error().Msgf("unknown task type %T", task)
	}
}

func (m *Manager) handleCmd(cmd Cmd, cnc chan<- Cmd) {
	switch c := cmd.(type) {
	case GetMigrationDataCmd:
		v, ok := m.vnodes[c.VNode]
		if !ok || v.Migration == nil || v.Migration.Direction != ids.Outbound || v.Migration.Chunk != c.Chunk {
			m.log.Warn().Uint64("vnode", c.VNode).Uint64("chunk", c.Chunk).Msg("get-migration-data: invariant violation, dropping")
			return
		}
		var data []string
		if c.Chunk < uint64(len(v.Data)) {
			data = []string{v.Data[c.Chunk]}
		}
		v.Migration.Chunk++
		c.Reply <- MigrationDataReply{Chunk: c.Chunk, Data: data}

	case FinishMigrationCmd:
		v, ok := m.vnodes[c.VNode]
		if !ok || v.Migration == nil || v.Migration.Direction != ids.Outbound {
			m.log.Warn().Uint64("vnode", c.VNode).Msg("finish-migration: invariant violation, dropping")
			return
		}
		delete(m.vnodes, c.VNode)

	case CancelMigrationCmd:
		if v, ok := m.vnodes[c.VNode]; ok {
			v.Migration = nil
		}
		m.log.Warn().Uint64("vnode", c.VNode).Str("target", c.Target).Msg("migration cancelled, requeueing")
		m.handleTask(MigrateOutTask{Target: c.Target, VNode: c.VNode}, cnc)

	default:
		m.log.Error().Msgf("unknown cnc command %T", cmd)
	}
}
