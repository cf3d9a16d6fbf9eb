// Package room is the built-in collaboration engine. It keeps a document as
// a flat record map, applies update messages and fans everything out to the
// other sessions in the room. The registry only depends on core.Engine, so
// a different engine can be injected without touching the lifecycle code.
package room

import (
	"encoding/json"
	"sync"

	"tldraw-collab/core"

	"github.com/sirupsen/logrus"
)

type session struct {
	id      string
	conn    core.Conn
	writeMu sync.Mutex
}

func (s *session) write(data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	// Write failures are not handled here: a dead connection surfaces as a
	// read error in its own Serve loop.
	_ = s.conn.WriteMessage(data)
}

// Room implements core.Engine.
type Room struct {
	mu       sync.Mutex
	records  map[string]json.RawMessage
	sessions map[string]*session
	closed   bool
}

func New() *Room {
	return &Room{
		records:  make(map[string]json.RawMessage),
		sessions: make(map[string]*session),
	}
}

type snapshot struct {
	Records map[string]json.RawMessage `json:"records"`
}

type message struct {
	Type   string                     `json:"type"`
	Put    map[string]json.RawMessage `json:"put,omitempty"`
	Delete []string                   `json:"delete,omitempty"`
}

type initMessage struct {
	Type    string                     `json:"type"`
	Records map[string]json.RawMessage `json:"records"`
}

// LoadSnapshot replaces the room state. Empty data starts a blank room.
func (r *Room) LoadSnapshot(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(data) == 0 {
		r.records = make(map[string]json.RawMessage)
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	if snap.Records == nil {
		snap.Records = make(map[string]json.RawMessage)
	}
	r.records = snap.Records
	return nil
}

// Snapshot serializes the current room state.
func (r *Room) Snapshot() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(snapshot{Records: r.records})
}

// Serve runs the session loop for one connection until it disconnects.
func (r *Room) Serve(sessionID string, conn core.Conn) {
	s := &session{id: sessionID, conn: conn}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.Close()
		return
	}
	r.sessions[sessionID] = s
	init, err := json.Marshal(initMessage{Type: "init", Records: r.records})
	r.mu.Unlock()

	log := logrus.WithField("session_id", sessionID)

	if err == nil {
		s.write(init)
	}

	defer func() {
		r.mu.Lock()
		delete(r.sessions, sessionID)
		r.mu.Unlock()
		conn.Close()
		log.Debug("session left room")
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.dispatch(s, data)
	}
}

func (r *Room) dispatch(from *session, data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		logrus.WithField("session_id", from.id).Debug("dropping unparseable message")
		return
	}

	if msg.Type == "update" {
		r.applyUpdate(msg)
	}

	// Everything, updates included, fans out to the other sessions as-is.
	r.broadcast(from.id, data)
}

func (r *Room) applyUpdate(msg message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, record := range msg.Put {
		r.records[id] = record
	}
	for _, id := range msg.Delete {
		delete(r.records, id)
	}
}

func (r *Room) broadcast(fromID string, data []byte) {
	r.mu.Lock()
	peers := make([]*session, 0, len(r.sessions))
	for id, s := range r.sessions {
		if id != fromID {
			peers = append(peers, s)
		}
	}
	r.mu.Unlock()

	for _, peer := range peers {
		peer.write(data)
	}
}

// Close disconnects every session. The registry calls it exactly once, at
// teardown, after the final flush.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conns := make([]core.Conn, 0, len(r.sessions))
	for _, s := range r.sessions {
		conns = append(conns, s.conn)
	}
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
