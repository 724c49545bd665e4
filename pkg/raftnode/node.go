package raftnode

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ringcluster/mring/pkg/ids"
	"github.com/ringcluster/mring/pkg/metrics"
	"github.com/ringcluster/mring/pkg/service"
	"github.com/ringcluster/mring/pkg/storage"
	"github.com/rs/zerolog"
	"go.etcd.io/etcd/raft/v3"
	"go.etcd.io/etcd/raft/v3/raftpb"
)

// DefaultTickInterval is the cadence the raft driver ticks at. Storage
// operations are synchronous and must complete well within one tick.
const DefaultTickInterval = 100 * time.Millisecond

// DefaultStatusInterval is how often the driver logs its raft status.
const DefaultStatusInterval = 10 * time.Second

const proposeTimeout = 5 * time.Second

var errStopped = errors.New("raftnode: node stopped")

// Transport sends outbound raft messages to peers and hands inbound ones
// to a Node via Step. One Transport instance is shared by a Node and
// whatever listener accepts peer connections.
type Transport interface {
	Send(msgs []raftpb.Message)
}

// Config configures a new Node. The caller opens (and, for a bootstrap
// node, is expected to leave empty/unbootstrapped) the Store itself and
// builds Services against that same Store, so service state and raft
// log/hard/conf state live in the one storage handle this Node owns
// exclusively from here on.
type Config struct {
	NodeID    ids.NodeId
	Endpoint  string
	Bootstrap bool

	Store     *storage.Store
	Services  map[ids.ServiceId]service.Service
	Transport Transport

	TickInterval   time.Duration
	StatusInterval time.Duration

	Logger zerolog.Logger
}

type proposal struct {
	id   string
	data []byte
}

type proposalResult struct {
	status  service.Status
	payload []byte
	err     error
}

// Node wires a raft.RawNode to storage, the service dispatch table, and a
// peer transport. It is the platform's single dedicated raft thread: Run
// must execute on its own goroutine and nothing else touches the RawNode
// or writes the underlying storage handle while it runs. Local reads
// served by Execute read storage on the caller's goroutine.
type Node struct {
	id       ids.NodeId
	endpoint string

	rn        *raft.RawNode
	storage   *storage.Store
	services  map[ids.ServiceId]service.Service
	transport Transport
	log       zerolog.Logger

	tickInterval   time.Duration
	statusInterval time.Duration

	recvc    chan raftpb.Message
	proposeC chan proposal
	stopc    chan struct{}
	donec    chan struct{}

	mu           sync.Mutex
	pending      map[string]chan proposalResult
	appliedIndex uint64
}

// NewNode bootstraps cfg.Store if this is a fresh bootstrap leader and
// constructs the raft.RawNode over it. It does not start the driver; call
// Run for that.
func NewNode(cfg Config) (*Node, error) {
	store := cfg.Store
	hs, _, err := store.InitialState()
	if err != nil {
		return nil, fmt.Errorf("raftnode: read initial state: %w", err)
	}
	isNew := raft.IsEmptyHardState(hs)

	if isNew {
		if !cfg.Bootstrap {
			return nil, fmt.Errorf("raftnode: node %d has no persisted state and was not started with -b", cfg.NodeID)
		}
		if err := store.Bootstrap(raftpb.ConfState{Voters: []uint64{uint64(cfg.NodeID)}}); err != nil {
			return nil, fmt.Errorf("raftnode: bootstrap: %w", err)
		}
	}

	raftCfg := &raft.Config{
		ID:                        uint64(cfg.NodeID),
		ElectionTick:              10,
		HeartbeatTick:             1,
		Storage:                   store,
		MaxSizePerMsg:             1 << 20,
		MaxInflightMsgs:           256,
		MaxUncommittedEntriesSize: 1 << 30,
	}
	rn, err := raft.NewRawNode(raftCfg)
	if err != nil {
		return nil, fmt.Errorf("raftnode: new raw node: %w", err)
	}

	tickInterval := cfg.TickInterval
	if tickInterval == 0 {
		tickInterval = DefaultTickInterval
	}
	statusInterval := cfg.StatusInterval
	if statusInterval == 0 {
		statusInterval = DefaultStatusInterval
	}

	n := &Node{
		id:             cfg.NodeID,
		endpoint:       cfg.Endpoint,
		rn:             rn,
		storage:        store,
		services:       cfg.Services,
		transport:      cfg.Transport,
		log:            cfg.Logger.With().Str("component", "raftnode").Uint64("node_id", uint64(cfg.NodeID)).Logger(),
		tickInterval:   tickInterval,
		statusInterval: statusInterval,
		recvc:          make(chan raftpb.Message, 64),
		proposeC:       make(chan proposal, 64),
		stopc:          make(chan struct{}),
		donec:          make(chan struct{}),
		pending:        make(map[string]chan proposalResult),
	}

	if isNew && cfg.Bootstrap {
		if err := rn.Campaign(); err != nil {
			store.Close()
			return nil, fmt.Errorf("raftnode: campaign: %w", err)
		}
	}

	return n, nil
}

// Storage returns the node's storage handle, for read-local service
// execution that needs it directly (the services themselves hold their
// own reference; this is for status/debug reporting).
func (n *Node) Storage() *storage.Store { return n.storage }

// Step delivers an inbound raft message received from a peer. Safe to
// call from the transport's receive goroutine.
func (n *Node) Step(m raftpb.Message) {
	select {
	case n.recvc <- m:
	case <-n.stopc:
	}
}

// Stop signals Run to exit and waits for it to finish.
func (n *Node) Stop() {
	close(n.stopc)
	<-n.donec
	n.storage.Close()
}

// Execute runs event against the service registered under serviceID:
// locally if the service classifies it as a local read, otherwise by
// proposing it through raft and waiting for the applied result.
func (n *Node) Execute(serviceID ids.ServiceId, event []byte) (service.Status, []byte, error) {
	svc, ok := n.services[serviceID]
	if !ok {
		return 0, nil, fmt.Errorf("raftnode: service %d: %w", serviceID, service.ErrUnknownEvent)
	}
	if svc.IsLocal(event) {
		return svc.Execute(event)
	}
	return n.propose(serviceID, event)
}

func (n *Node) propose(serviceID ids.ServiceId, event []byte) (service.Status, []byte, error) {
	id := uuid.NewString()
	data, err := json.Marshal(entryEnvelope{ID: id, ServiceID: serviceID, Event: event})
	if err != nil {
		return 0, nil, fmt.Errorf("raftnode: encode envelope: %w", err)
	}

	result := make(chan proposalResult, 1)
	n.mu.Lock()
	n.pending[id] = result
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.pending, id)
		n.mu.Unlock()
	}()

	select {
	case n.proposeC <- proposal{id: id, data: data}:
	case <-n.stopc:
		return 0, nil, errStopped
	}

	select {
	case r := <-result:
		return r.status, r.payload, r.err
	case <-time.After(proposeTimeout):
		return 0, nil, fmt.Errorf("raftnode: proposal %s timed out waiting for commit", id)
	}
}

// Run drives the raft tick/ready loop until Stop is called. It must run
// on its own goroutine for the node's lifetime; it is the sole writer of
// the storage handle and the sole caller into the RawNode.
func (n *Node) Run() {
	defer close(n.donec)

	ticker := time.NewTicker(n.tickInterval)
	defer ticker.Stop()
	statusTicker := time.NewTicker(n.statusInterval)
	defer statusTicker.Stop()

	for {
		select {
		case <-ticker.C:
			n.rn.Tick()

		case <-statusTicker.C:
			n.logStatus()

		case p := <-n.proposeC:
			if err := n.rn.Propose(p.data); err != nil {
				n.deliver(p.id, 0, nil, fmt.Errorf("raftnode: propose: %w", err))
			}

		case m := <-n.recvc:
			if err := n.rn.Step(m); err != nil {
				n.log.Warn().Err(err).Msg("raftnode: step failed")
			}

		case <-n.stopc:
			return
		}

		if n.rn.HasReady() {
			n.processReady(n.rn.Ready())
		}
	}
}

func (n *Node) processReady(rd raft.Ready) {
	if rd.SoftState != nil {
		metrics.RaftIsLeader.Set(boolToFloat(rd.SoftState.RaftState == raft.StateLeader))
	}

	if !raft.IsEmptySnap(rd.Snapshot) {
		if err := n.storage.ApplySnapshot(rd.Snapshot); err != nil && !errors.Is(err, storage.ErrSnapshotOutOfDate) {
			n.log.Fatal().Err(err).Msg("raftnode: apply snapshot failed")
		}
	}

	if err := n.storage.Append(rd.Entries); err != nil {
		n.log.Fatal().Err(err).Msg("raftnode: append entries failed")
	}

	if !raft.IsEmptyHardState(rd.HardState) {
		if err := n.storage.SetHardState(rd.HardState); err != nil {
			n.log.Fatal().Err(err).Msg("raftnode: persist hard state failed")
		}
	}

	if n.transport != nil && len(rd.Messages) > 0 {
		n.transport.Send(rd.Messages)
	}

	for _, entry := range rd.CommittedEntries {
		n.applyEntry(entry)
	}

	n.rn.Advance(rd)

	st := n.rn.Status()
	metrics.RaftTerm.Set(float64(st.Term))
	metrics.RaftCommitIndex.Set(float64(st.Commit))
	metrics.RaftAppliedIndex.Set(float64(n.appliedIndex))
}

func (n *Node) applyEntry(entry raftpb.Entry) {
	n.appliedIndex = entry.Index

	switch entry.Type {
	case raftpb.EntryConfChange:
		var cc raftpb.ConfChange
		if err := cc.Unmarshal(entry.Data); err != nil {
			n.log.Error().Err(err).Msg("raftnode: decode conf change")
			return
		}
		cs := n.rn.ApplyConfChange(cc)
		if err := n.storage.SetConfState(*cs); err != nil {
			n.log.Fatal().Err(err).Msg("raftnode: persist conf state failed")
		}

	case raftpb.EntryNormal:
		if len(entry.Data) == 0 {
			return
		}
		var env entryEnvelope
		if err := json.Unmarshal(entry.Data, &env); err != nil {
			n.log.Error().Err(err).Msg("raftnode: decode entry envelope")
			return
		}
		svc, ok := n.services[env.ServiceID]
		if !ok {
			n.deliver(env.ID, 0, nil, fmt.Errorf("raftnode: service %d: %w", env.ServiceID, service.ErrUnknownEvent))
			return
		}
		status, payload, err := svc.Execute(env.Event)
		n.deliver(env.ID, status, payload, err)

	default:
		n.log.Error().Msgf("raftnode: unknown entry type %v at index %d", entry.Type, entry.Index)
	}
}

func (n *Node) deliver(id string, status service.Status, payload []byte, err error) {
	n.mu.Lock()
	ch, ok := n.pending[id]
	n.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- proposalResult{status: status, payload: payload, err: err}:
	default:
	}
}

func (n *Node) logStatus() {
	st := n.rn.Status()
	n.log.Info().
		Uint64("term", st.Term).
		Uint64("commit", st.Commit).
		Str("raft_state", st.RaftState.String()).
		Uint64("lead", st.Lead).
		Msg("raft status")
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
