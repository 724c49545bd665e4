package migrate

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/ringcluster/mring/pkg/metrics"
	"github.com/ringcluster/mring/pkg/vnode"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Migration connections are peer-to-peer cluster traffic, not
	// browser-originated, so origin checking doesn't apply.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Server is the destination side of the migration wire protocol: an HTTP
// handler that upgrades each connection and translates its frames into
// vnode.Task values for the local manager.
type Server struct {
	tasks chan<- vnode.Task
	log   zerolog.Logger
}

// NewServer builds a Server that feeds decoded tasks into tasks, the same
// channel the node's vnode.Manager.Run is draining.
func NewServer(tasks chan<- vnode.Task, log zerolog.Logger) *Server {
	return &Server{tasks: tasks, log: log.With().Str("component", "migrate").Logger()}
}

// ServeHTTP implements http.Handler, registered at Path.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("migrate: upgrade failed")
		return
	}
	defer conn.Close()

	if err := s.serve(conn); err != nil {
		s.log.Warn().Err(err).Msg("migrate: inbound transfer ended with error")
	}
}

func (s *Server) serve(conn *websocket.Conn) error {
	var msg Msg
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("migrate: read start: %w", err)
	}
	if msg.Type != MsgStart {
		return fmt.Errorf("migrate: expected Start, got %s", msg.Type)
	}

	s.tasks <- vnode.MigrateInStartTask{VNode: msg.VNode, Src: msg.Src}
	if err := conn.WriteJSON(startAck(msg.VNode)); err != nil {
		return fmt.Errorf("migrate: ack start: %w", err)
	}

	for {
		msg = Msg{}
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("migrate: read frame: %w", err)
		}

		switch msg.Type {
		case MsgData:
			s.tasks <- vnode.MigrateInTask{VNode: msg.VNode, Chunk: msg.Chunk, Data: msg.Data}
			if err := conn.WriteJSON(dataAck(msg.Chunk)); err != nil {
				return fmt.Errorf("migrate: ack data: %w", err)
			}
			metrics.MigrationChunksTotal.WithLabelValues("destination").Inc()

		case MsgFinish:
			s.tasks <- vnode.MigrateInEndTask{VNode: msg.VNode}
			if err := conn.WriteJSON(finishAck(msg.VNode)); err != nil {
				return fmt.Errorf("migrate: ack finish: %w", err)
			}
			metrics.MigrationsCompletedTotal.WithLabelValues("inbound").Inc()
			return nil

		default:
			return fmt.Errorf("migrate: unexpected frame type %s", msg.Type)
		}
	}
}
