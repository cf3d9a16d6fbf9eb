package ws

import (
	"encoding/json"

	"tldraw-collab/core"

	"github.com/gorilla/websocket"
)

// wsConn adapts a gorilla websocket connection to core.Conn. The engine
// serializes writes per session, so no extra locking is needed here.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// readOnlyConn suppresses mutations from a connection whose token lacks
// write permission. It filters at the transport boundary so the engine
// never sees a dropped message, regardless of client behavior.
type readOnlyConn struct {
	core.Conn
}

// ReadOnly wraps conn so inbound update messages are silently dropped.
// Everything else, including frames that do not parse as JSON, passes
// through for the engine to judge.
func ReadOnly(conn core.Conn) core.Conn {
	return &readOnlyConn{Conn: conn}
}

func (c *readOnlyConn) ReadMessage() ([]byte, error) {
	for {
		data, err := c.Conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &probe); err == nil && probe.Type == "update" {
			continue
		}
		return data, nil
	}
}
