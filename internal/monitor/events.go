package monitor

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/meshlayers/internal/meshmap"
	"github.com/banshee-data/meshlayers/internal/monitoring"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 5 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 8) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: time.Second,
	ReadBufferSize:   maxMessageSize,
	WriteBufferSize:  2048,
}

// handleEvents streams layer change events to a websocket client as JSON
// text messages until either side closes.
func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		monitoring.Logf("[Events] upgrade failed: %v", err)
		return
	}

	id, events := ws.meshMap.Subscribe()
	done := make(chan struct{})
	go readPump(conn, done)
	writePump(conn, events, done)

	ws.meshMap.Unsubscribe(id)
	conn.Close()
}

// readPump discards client messages and closes done when the connection
// fails or the client goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				monitoring.Logf("[Events] close error: %v", err)
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, events <-chan meshmap.LayerEvent, done <-chan struct{}) {
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case ev, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The mesh map closed the subscription.
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-pingTicker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
