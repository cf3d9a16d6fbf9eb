package core

type (
	// Conn is one realtime connection as seen by the collaboration engine.
	// The gateway adapts the underlying websocket to this interface and may
	// layer decorators (read-only filtering) on top before handing it over.
	Conn interface {
		// ReadMessage blocks until the next inbound message or a terminal
		// connection error.
		ReadMessage() ([]byte, error)

		WriteMessage(data []byte) error

		Close() error
	}

	// Engine is the collaboration room the registry manages. The merge
	// semantics inside it are opaque to the rest of the system; the registry
	// only needs to feed it connections and move snapshots in and out.
	Engine interface {
		// LoadSnapshot replaces the engine state with a previously produced
		// snapshot. An empty snapshot starts a blank room.
		LoadSnapshot(data []byte) error

		// Snapshot serializes the current state for persistence.
		Snapshot() ([]byte, error)

		// Serve runs the session loop for conn until it disconnects.
		Serve(sessionID string, conn Conn)

		// Close disconnects all sessions and releases engine resources.
		Close()
	}
)
