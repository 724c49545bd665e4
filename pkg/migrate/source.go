package migrate

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ringcluster/mring/pkg/metrics"
	"github.com/ringcluster/mring/pkg/vnode"
	"github.com/rs/zerolog"
)

// Path is the HTTP path the destination's websocket upgrader listens on.
const Path = "/migrate"

// ackTimeout bounds how long the source waits for an ack to a frame it
// just sent. A destination that stops acking otherwise wedges the
// migration forever instead of letting it cancel and requeue.
const ackTimeout = 30 * time.Second

// Dialer opens a transient websocket connection to a migration target.
// The default dials ws://<target>/migrate.
type Dialer func(target string) (*websocket.Conn, error)

// DefaultDialer dials target (a host:port) directly.
func DefaultDialer(target string) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: target, Path: Path}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("migrate: dial %s: %w", target, err)
	}
	return conn, nil
}

// Runner drives the source side of the migration wire protocol. It
// implements vnode.MigrationRunner.
type Runner struct {
	nodeID string
	dial   Dialer
	log    zerolog.Logger
}

// NewRunner builds a Runner that identifies itself as nodeID in the
// protocol's Start frame and dials peers with dial.
func NewRunner(nodeID string, dial Dialer, log zerolog.Logger) *Runner {
	return &Runner{nodeID: nodeID, dial: dial, log: log.With().Str("component", "migrate").Logger()}
}

var _ vnode.MigrationRunner = (*Runner)(nil)

// Run implements vnode.MigrationRunner. It is spawned by the manager in
// its own goroutine per outbound migration and communicates back
// exclusively through cnc, never touching the manager's vnode map
// directly.
func (r *Runner) Run(target string, vnodeID uint64, cnc chan<- vnode.Cmd) {
	log := r.log.With().Uint64("vnode", vnodeID).Str("target", target).Str("migration_id", uuid.NewString()).Logger()

	conn, err := r.dial(target)
	if err != nil {
		log.Warn().Err(err).Msg("migrate: connect failed, cancelling")
		cnc <- vnode.CancelMigrationCmd{VNode: vnodeID, Target: target}
		return
	}
	defer conn.Close()

	if err := r.transfer(conn, vnodeID, cnc); err != nil {
		log.Warn().Err(err).Msg("migrate: transfer failed, cancelling")
		cnc <- vnode.CancelMigrationCmd{VNode: vnodeID, Target: target}
		return
	}

	log.Info().Msg("migrate: transfer complete")
	metrics.MigrationsCompletedTotal.WithLabelValues("outbound").Inc()
	cnc <- vnode.FinishMigrationCmd{VNode: vnodeID}
}

func (r *Runner) transfer(conn *websocket.Conn, vnodeID uint64, cnc chan<- vnode.Cmd) error {
	if err := send(conn, Msg{Type: MsgStart, Src: r.nodeID, VNode: vnodeID}); err != nil {
		return err
	}
	if err := expectAck(conn, startAck(vnodeID)); err != nil {
		return err
	}

	chunk := uint64(0)
	for {
		reply := make(chan vnode.MigrationDataReply, 1)
		cnc <- vnode.GetMigrationDataCmd{VNode: vnodeID, Chunk: chunk, Reply: reply}
		dataReply := <-reply

		if err := send(conn, Msg{Type: MsgData, VNode: vnodeID, Chunk: dataReply.Chunk, Data: dataReply.Data}); err != nil {
			return err
		}
		if err := expectAck(conn, dataAck(dataReply.Chunk)); err != nil {
			return err
		}
		metrics.MigrationChunksTotal.WithLabelValues("source").Inc()

		if len(dataReply.Data) == 0 {
			break
		}
		chunk++
	}

	if err := send(conn, Msg{Type: MsgFinish, VNode: vnodeID}); err != nil {
		return err
	}
	return expectAck(conn, finishAck(vnodeID))
}

func send(conn *websocket.Conn, msg Msg) error {
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("migrate: send %s: %w", msg.Type, err)
	}
	return nil
}

func expectAck(conn *websocket.Conn, want Ack) error {
	conn.SetReadDeadline(time.Now().Add(ackTimeout))
	var got Ack
	if err := conn.ReadJSON(&got); err != nil {
		return fmt.Errorf("migrate: read ack: %w", err)
	}
	if got != want {
		return fmt.Errorf("migrate: ack mismatch: want %+v, got %+v", want, got)
	}
	return nil
}
