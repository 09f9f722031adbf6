package api

import (
	"net/http"
	"time"

	"github.com/artpar/watchtower-agent/internal/shell/eventbus"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The Control Surface is fronted by whatever reverse proxy terminates
	// the external boundary; this agent does not itself enforce an origin
	// allowlist.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsOutboxSize = 256

// handleWebSocket upgrades the connection and streams Event values,
// honoring a client's subscribe{from_sequence?} request and ping. Only
// this goroutine ever calls conn.WriteJSON; the read loop only reads,
// since gorilla/websocket forbids concurrent writers on one connection.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	subscribeReq := make(chan uint64, 1)
	done := make(chan struct{})
	go h.wsReadLoop(conn, subscribeReq, done)

	msgCh, unsub := h.bus.Subscribe(0, wsOutboxSize)
	defer unsub()

	for {
		select {
		case <-done:
			return
		case from := <-subscribeReq:
			unsub()
			msgCh, unsub = h.bus.Subscribe(from, wsOutboxSize)
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			if err := writeWSMessage(conn, msg); err != nil {
				return
			}
		}
	}
}

// wsReadLoop drains client control messages and forwards subscribe
// requests to the write loop; it never writes to the connection.
func (h *Handler) wsReadLoop(conn *websocket.Conn, subscribeReq chan uint64, done chan struct{}) {
	defer close(done)
	for {
		var msg WSClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Action {
		case "subscribe":
			var from uint64
			if msg.FromSequence != nil {
				from = *msg.FromSequence
			}
			select {
			case subscribeReq <- from:
			default:
				// a resubscribe is already pending; the newest request wins
				select {
				case <-subscribeReq:
				default:
				}
				subscribeReq <- from
			}
		case "ping":
			// keepalive only; the write loop's next message or the
			// underlying ping/pong frames cover liveness.
		}
	}
}

func writeWSMessage(conn *websocket.Conn, msg eventbus.Message) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if msg.Gap != nil {
		return conn.WriteJSON(WSGapMessage{Type: "gap", From: msg.Gap.From})
	}
	ev := msg.Event
	return conn.WriteJSON(EventResponse{
		Sequence: ev.Sequence, Kind: string(ev.Kind), At: ev.At,
		ContainerID: ev.ContainerID, Payload: ev.Payload,
	})
}
