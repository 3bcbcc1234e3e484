package connections

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin policy is enforced upstream by the game's edge proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame is the small control vocabulary clients may send upstream.
// Chat itself flows through the broker, not the websocket.
type clientFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId,omitempty"`
}

// WebsocketHandler upgrades incoming connections and registers them with the
// gateway. Identity and role come from the gateway's auth layer via headers;
// the connection is dropped when the read side fails.
func (g *Gateway) WebsocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := r.Header.Get("X-Player-ID")
		if playerID == "" {
			playerID = r.URL.Query().Get("playerId")
		}
		if playerID == "" {
			http.Error(w, "missing player identity", http.StatusBadRequest)
			return
		}
		admin := r.Header.Get("X-Player-Role") == "admin"

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			g.logger.Warn("websocket upgrade failed",
				"playerId", playerID, "error", err)
			return
		}

		g.Register(playerID, conn, admin)
		go g.readPump(playerID, conn)
	}
}

// readPump consumes control frames until the connection dies, then cleans up
// the registration.
func (g *Gateway) readPump(playerID string, conn *websocket.Conn) {
	defer g.Unregister(playerID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Warn("websocket read failed",
					"playerId", playerID, "error", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			g.logger.Debug("ignoring malformed client frame", "playerId", playerID)
			continue
		}

		switch frame.Type {
		case "location":
			g.SetLocation(playerID, frame.RoomID)
		default:
			g.logger.Debug("ignoring unknown client frame",
				"playerId", playerID, "type", frame.Type)
		}
	}
}
