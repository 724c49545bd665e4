package raftnode

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ringcluster/mring/pkg/ids"
	"github.com/rs/zerolog"
	"go.etcd.io/etcd/raft/v3/raftpb"
)

// RaftPath is the HTTP path the peer transport's websocket upgrader
// listens on.
const RaftPath = "/raft"

const reconnectInterval = time.Second

const peerSendBuffer = 256

var raftUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type peer struct {
	addr string
	send chan raftpb.Message
}

// PeerTransport ships outbound raft Messages to peers over persistent
// websocket connections, one per peer, reconnecting on failure, and
// delivers inbound messages to a Node via Step. It implements Transport.
type PeerTransport struct {
	node *Node
	log  zerolog.Logger

	mu    sync.RWMutex
	peers map[uint64]*peer

	stopc chan struct{}
}

// NewPeerTransport builds a transport with no peers and no attached node
// yet. Call Attach once the Node exists (the two are constructed in
// sequence: the transport is needed to build the Node's Config, but
// inbound delivery needs the constructed Node) and AddPeer for each known
// cluster member before messages destined for it can be sent.
func NewPeerTransport(log zerolog.Logger) *PeerTransport {
	return &PeerTransport{
		log:   log.With().Str("component", "raftnode-transport").Logger(),
		peers: make(map[uint64]*peer),
		stopc: make(chan struct{}),
	}
}

// Attach wires the transport to the Node whose inbound messages it
// should deliver via Step. Must be called before the transport's
// ServeHTTP is reachable from a listener.
func (t *PeerTransport) Attach(n *Node) {
	t.node = n
}

// AddPeer registers addr (host:port) as the endpoint for id and starts
// the persistent outbound connection goroutine for it.
func (t *PeerTransport) AddPeer(id ids.NodeId, addr string) {
	p := &peer{addr: addr, send: make(chan raftpb.Message, peerSendBuffer)}
	t.mu.Lock()
	t.peers[uint64(id)] = p
	t.mu.Unlock()
	go t.runPeer(id, p)
}

// Stop halts every peer connection goroutine.
func (t *PeerTransport) Stop() {
	close(t.stopc)
}

// Send implements Transport: messages are routed to the peer named by
// their To field and handed to that peer's outbound queue. A full queue
// drops the message — raft's own retransmission on the next tick covers
// the loss, matching the "no explicit timeout, self-terminating" posture
// the rest of this platform takes toward transient transport failures.
func (t *PeerTransport) Send(msgs []raftpb.Message) {
	for _, m := range msgs {
		t.mu.RLock()
		p, ok := t.peers[m.To]
		t.mu.RUnlock()
		if !ok {
			continue
		}
		select {
		case p.send <- m:
		default:
			t.log.Warn().Uint64("to", m.To).Msg("raftnode: peer send queue full, dropping message")
		}
	}
}

func (t *PeerTransport) runPeer(id ids.NodeId, p *peer) {
	log := t.log.With().Uint64("peer", uint64(id)).Str("addr", p.addr).Logger()
	for {
		select {
		case <-t.stopc:
			return
		default:
		}

		conn, err := dialPeer(p.addr)
		if err != nil {
			log.Debug().Err(err).Msg("raftnode: peer dial failed, retrying")
			select {
			case <-time.After(reconnectInterval):
				continue
			case <-t.stopc:
				return
			}
		}

		t.pump(conn, p, log)
		conn.Close()
	}
}

func (t *PeerTransport) pump(conn *websocket.Conn, p *peer, log zerolog.Logger) {
	for {
		select {
		case m := <-p.send:
			if err := conn.WriteJSON(m); err != nil {
				log.Debug().Err(err).Msg("raftnode: peer write failed, reconnecting")
				return
			}
		case <-t.stopc:
			return
		}
	}
}

func dialPeer(addr string) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: RaftPath}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	return conn, err
}

// ServeHTTP implements http.Handler for the peer listener side: it
// upgrades the connection and feeds every decoded message to the
// transport's Node until the connection drops.
func (t *PeerTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := raftUpgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warn().Err(err).Msg("raftnode: peer upgrade failed")
		return
	}
	defer conn.Close()

	for {
		var m raftpb.Message
		if err := conn.ReadJSON(&m); err != nil {
			return
		}
		if t.node != nil {
			t.node.Step(m)
		}
	}
}
