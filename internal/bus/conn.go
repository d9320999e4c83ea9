// README: Websocket transport over the broker. One goroutine reads client
// frames, one writes events and heartbeats. A dropped connection detaches
// the session so a quick reconnect replays what was missed.
package bus

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cheez95/luckygas/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// subscribeFrame is the first frame a client sends after connecting.
type subscribeFrame struct {
	SessionID string            `json:"session_id,omitempty"`
	Rooms     []string          `json:"rooms"`
	LastSeqs  map[string]uint64 `json:"last_seqs,omitempty"`
}

// subscribedFrame acknowledges the subscription. Rooms listed in
// ReplayGapRooms lost events beyond the replay window; the client must
// refetch state over HTTP for those.
type subscribedFrame struct {
	Type           string   `json:"type"`
	SessionID      string   `json:"session_id"`
	ReplayGapRooms []string `json:"replay_gap_rooms,omitempty"`
}

// heartbeatFrame is sent every heartbeat interval. A client missing two
// consecutive heartbeats reconnects.
type heartbeatFrame struct {
	Type       string    `json:"type"`
	ServerTime time.Time `json:"server_time"`
}

// controlFrame covers the client messages after the handshake: ack a
// processed sequence, resubscribe with a new room set, or join one room.
type controlFrame struct {
	Action string   `json:"action"`
	Room   string   `json:"room,omitempty"`
	Seq    uint64   `json:"seq,omitempty"`
	Rooms  []string `json:"rooms,omitempty"`
}

type WSHandler struct {
	broker    *Broker
	heartbeat time.Duration
	log       zerolog.Logger
}

func NewWSHandler(broker *Broker, heartbeat time.Duration, log zerolog.Logger) *WSHandler {
	if heartbeat <= 0 {
		heartbeat = 20 * time.Second
	}
	return &WSHandler{broker: broker, heartbeat: heartbeat, log: log.With().Str("component", "ws").Logger()}
}

func (h *WSHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var sub subscribeFrame
	conn.SetReadDeadline(time.Now().Add(h.heartbeat))
	if err := conn.ReadJSON(&sub); err != nil {
		h.log.Debug().Err(err).Msg("ws handshake failed")
		return
	}

	session, gapRooms := h.broker.Subscribe(sub.SessionID, sub.Rooms, sub.LastSeqs)
	defer h.broker.Detach(session)

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	if err := conn.WriteJSON(subscribedFrame{Type: "subscribed", SessionID: session.ID, ReplayGapRooms: gapRooms}); err != nil {
		return
	}

	done := make(chan struct{})
	go h.readPump(conn, session, done)
	h.writePump(conn, session, done)
}

// readPump drains client control frames. Any inbound frame refreshes the
// read deadline; an idle client that stops acking eventually times out.
func (h *WSHandler) readPump(conn *websocket.Conn, session *Session, done chan<- struct{}) {
	defer close(done)
	for {
		conn.SetReadDeadline(time.Now().Add(2 * h.heartbeat))
		var frame controlFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Action {
		case "ack":
			if frame.Room != "" {
				session.Ack(frame.Room, frame.Seq)
			}
		case "resubscribe":
			session.Resubscribe(frame.Rooms)
		case "join":
			if frame.Room != "" {
				session.JoinRoom(frame.Room)
			}
		}
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, session *Session, done <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-session.C():
			if !ok {
				// Broker shut the session down, either process shutdown or a
				// queue overflow. Tell the client to reconnect and replay.
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "resubscribe and replay"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(heartbeatFrame{Type: "heartbeat", ServerTime: time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}
