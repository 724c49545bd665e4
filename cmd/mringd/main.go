package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/ringcluster/mring/pkg/ids"
	"github.com/ringcluster/mring/pkg/kvsvc"
	"github.com/ringcluster/mring/pkg/log"
	"github.com/ringcluster/mring/pkg/metrics"
	"github.com/ringcluster/mring/pkg/migrate"
	"github.com/ringcluster/mring/pkg/placement"
	"github.com/ringcluster/mring/pkg/pubsub"
	"github.com/ringcluster/mring/pkg/raftnode"
	"github.com/ringcluster/mring/pkg/ringsvc"
	"github.com/ringcluster/mring/pkg/service"
	"github.com/ringcluster/mring/pkg/storage"
	"github.com/ringcluster/mring/pkg/vnode"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mringd",
	Short: "mringd runs one node of a managed-ring placement cluster",
	Long: `mringd serializes client operations through Raft onto a replicated
state machine composed of a key-value service and a ring-placement
service, and drives vnode migrations across the cluster as ring
membership changes.`,
	RunE: run,
}

func init() {
	flags := rootCmd.Flags()
	flags.IntP("id", "i", 1, "this node's numeric raft id")
	flags.BoolP("bootstrap", "b", false, "bootstrap this node as the cluster's first leader")
	flags.Uint64P("ring-size", "r", 0, "initial ring size in vnodes (bootstrap only)")
	flags.BoolP("no-json", "n", false, "emit plain-text logs instead of JSON")
	flags.StringArrayP("peer", "p", nil, "peer endpoint as id=host:port, repeatable")
	flags.StringP("endpoint", "e", "127.0.0.1:8080", "local bind address for peer and migration traffic")
}

func run(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	nodeIDFlag, _ := flags.GetInt("id")
	bootstrap, _ := flags.GetBool("bootstrap")
	ringSize, _ := flags.GetUint64("ring-size")
	noJSON, _ := flags.GetBool("no-json")
	peerFlags, _ := flags.GetStringArray("peer")
	endpoint, _ := flags.GetString("endpoint")

	nodeID := ids.NodeId(nodeIDFlag)

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: !noJSON})
	nodeLog := log.WithNodeID(strconv.FormatUint(uint64(nodeID), 10))

	peers, err := parsePeers(peerFlags)
	if err != nil {
		return err
	}

	store, err := storage.Open(".", nodeID)
	if err != nil {
		return fmt.Errorf("mringd: open storage: %w", err)
	}

	bus := pubsub.NewBus()
	bus.Start()
	defer bus.Stop()

	strategy := placement.NewContinuous()
	kv := kvsvc.New(store, bus)
	ring := ringsvc.New(store, bus, strategy)
	services := map[ids.ServiceId]service.Service{
		ids.KVServiceID:    kv,
		ids.MRingServiceID: ring,
	}

	transport := raftnode.NewPeerTransport(nodeLog)
	node, err := raftnode.NewNode(raftnode.Config{
		NodeID:    nodeID,
		Endpoint:  endpoint,
		Bootstrap: bootstrap,
		Store:     store,
		Services:  services,
		Transport: transport,
		Logger:    nodeLog,
	})
	if err != nil {
		return fmt.Errorf("mringd: new node: %w", err)
	}
	transport.Attach(node)
	for id, addr := range peers {
		transport.AddPeer(id, addr)
	}

	vnodeTasks := make(chan vnode.Task, 64)
	migrator := migrate.NewRunner(endpoint, migrate.DefaultDialer, nodeLog)
	manager := vnode.NewManager(endpoint, migrator, nodeLog)
	go manager.Run(vnodeTasks)

	relocations := bus.Subscribe(pubsub.MRingTopic)
	go watchRelocations(endpoint, relocations, vnodeTasks, nodeLog)

	mux := http.NewServeMux()
	mux.Handle(raftnode.RaftPath, transport)
	mux.Handle(migrate.Path, migrate.NewServer(vnodeTasks, nodeLog))
	mux.Handle("/metrics", metrics.Handler())

	httpServer := &http.Server{Addr: endpoint, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			nodeLog.Fatal().Err(err).Msg("mringd: http server failed")
		}
	}()
	nodeLog.Info().Str("endpoint", endpoint).Msg("mringd: listening")

	go node.Run()

	if bootstrap && ringSize > 0 {
		bootstrapRing(node, endpoint, ringSize, nodeLog)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	nodeLog.Info().Msg("mringd: shutting down")
	httpServer.Close()
	node.Stop()
	transport.Stop()
	return nil
}

// bootstrapRing issues the cluster's one-time SetSize followed by AddNode
// for this node. Only the bootstrapping leader does this; the size is
// immutable once set.
func bootstrapRing(node *raftnode.Node, endpoint string, ringSize uint64, log zerolog.Logger) {
	setSize := fmt.Sprintf(`{"type":"SetSize","size":%d}`, ringSize)
	if _, _, err := node.Execute(ids.MRingServiceID, []byte(setSize)); err != nil {
		log.Error().Err(err).Msg("mringd: bootstrap SetSize failed")
		return
	}
	addNode := fmt.Sprintf(`{"type":"AddNode","node":%q}`, endpoint)
	if _, _, err := node.Execute(ids.MRingServiceID, []byte(addNode)); err != nil {
		log.Error().Err(err).Msg("mringd: bootstrap AddNode failed")
	}
}

// watchRelocations consumes mring pub/sub events and turns the
// relocations they carry into vnode manager tasks: new vnodes assigned
// directly to this node, and MigrateOut tasks for vnodes this node must
// hand off per the published relocation set.
func watchRelocations(selfEndpoint string, sub pubsub.Subscriber, tasks chan<- vnode.Task, log zerolog.Logger) {
	for msg := range sub {
		switch evt := msg.Payload.(type) {
		case ringsvc.NodeAddedMsg:
			applyRelocations(selfEndpoint, evt.Relocations, tasks, log)
			if evt.Node == selfEndpoint {
				assignFreshShare(evt.Next, selfEndpoint, tasks)
			}
		case ringsvc.NodeRemovedMsg:
			applyRelocations(selfEndpoint, evt.Relocations, tasks, log)
		}
	}
}

func applyRelocations(selfEndpoint string, relocations ids.Relocations, tasks chan<- vnode.Task, log zerolog.Logger) {
	byDst, ok := relocations[selfEndpoint]
	if !ok {
		return
	}
	for dst, vnodes := range byDst {
		for _, v := range vnodes {
			tasks <- vnode.MigrateOutTask{Target: dst, VNode: v}
		}
	}
}

func assignFreshShare(next ids.MRingNodes, selfEndpoint string, tasks chan<- vnode.Task) {
	for _, np := range next {
		if np.Node == selfEndpoint {
			tasks <- vnode.AssignTask{VNodes: np.VNodes}
			return
		}
	}
}

func parsePeers(raw []string) (map[ids.NodeId]string, error) {
	out := make(map[ids.NodeId]string, len(raw))
	for _, p := range raw {
		parts := strings.SplitN(p, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("mringd: invalid -p value %q, want id=host:port", p)
		}
		id, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("mringd: invalid peer id in %q: %w", p, err)
		}
		out[ids.NodeId(id)] = parts[1]
	}
	return out, nil
}
