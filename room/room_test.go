package room

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeConn is a scriptable core.Conn: inbound messages are queued on a
// channel, outbound messages are collected for inspection.
type fakeConn struct {
	inbound chan []byte

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	data, ok := <-c.inbound
	if !ok {
		return nil, errors.New("connection closed")
	}
	return data, nil
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	c.sent = append(c.sent, buf)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) waitMessages(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := c.messages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, have %d", n, len(c.messages()))
	return nil
}

func TestSnapshotRoundtrip(t *testing.T) {
	r := New()
	in := []byte(`{"records":{"shape:a":{"x":1},"shape:b":{"x":2}}}`)
	if err := r.LoadSnapshot(in); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	out, err := r.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	var snap struct {
		Records map[string]json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(out, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if len(snap.Records) != 2 {
		t.Errorf("snapshot has %d records, want 2", len(snap.Records))
	}
}

func TestLoadEmptySnapshotStartsBlank(t *testing.T) {
	r := New()
	if err := r.LoadSnapshot(nil); err != nil {
		t.Fatalf("LoadSnapshot(nil): %v", err)
	}
	out, err := r.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if string(out) != `{"records":{}}` {
		t.Errorf("blank snapshot = %s", out)
	}
}

func TestUpdateAppliesAndBroadcasts(t *testing.T) {
	r := New()

	a := newFakeConn()
	b := newFakeConn()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); r.Serve("a", a) }()
	go func() { defer wg.Done(); r.Serve("b", b) }()

	// Both sessions receive the init frame first.
	a.waitMessages(t, 1)
	b.waitMessages(t, 1)

	update := []byte(`{"type":"update","put":{"shape:a":{"x":1}}}`)
	a.inbound <- update

	msgs := b.waitMessages(t, 2)
	if string(msgs[1]) != string(update) {
		t.Errorf("peer received %s, want %s", msgs[1], update)
	}
	// The sender does not get its own update echoed back.
	if got := a.messages(); len(got) != 1 {
		t.Errorf("sender received %d messages, want 1 (init only)", len(got))
	}

	snap, err := r.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	var decoded struct {
		Records map[string]json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(snap, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded.Records["shape:a"]; !ok {
		t.Errorf("update not applied, snapshot = %s", snap)
	}

	// Deletes remove records.
	a.inbound <- []byte(`{"type":"update","delete":["shape:a"]}`)
	b.waitMessages(t, 3)
	snap, _ = r.Snapshot()
	if string(snap) != `{"records":{}}` {
		t.Errorf("after delete, snapshot = %s", snap)
	}

	a.Close()
	b.Close()
	wg.Wait()
}

func TestPresencePassesThroughWithoutStateChange(t *testing.T) {
	r := New()

	a := newFakeConn()
	b := newFakeConn()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); r.Serve("a", a) }()
	go func() { defer wg.Done(); r.Serve("b", b) }()
	a.waitMessages(t, 1)
	b.waitMessages(t, 1)

	presence := []byte(`{"type":"presence","cursor":[10,20]}`)
	a.inbound <- presence

	msgs := b.waitMessages(t, 2)
	if string(msgs[1]) != string(presence) {
		t.Errorf("peer received %s", msgs[1])
	}

	snap, _ := r.Snapshot()
	if string(snap) != `{"records":{}}` {
		t.Errorf("presence mutated state: %s", snap)
	}

	a.Close()
	b.Close()
	wg.Wait()
}

func TestCloseDisconnectsSessions(t *testing.T) {
	r := New()
	a := newFakeConn()
	done := make(chan struct{})
	go func() {
		r.Serve("a", a)
		close(done)
	}()
	a.waitMessages(t, 1)

	r.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}

	// A session arriving after Close is refused.
	late := newFakeConn()
	r.Serve("late", late)
	late.mu.Lock()
	closed := late.closed
	late.mu.Unlock()
	if !closed {
		t.Error("connection served on a closed room")
	}
}
