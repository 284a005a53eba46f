package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tickruntime/broker/internal/mailbox"
	"tickruntime/broker/internal/outbound"
	"tickruntime/broker/internal/registry"
)

func testSession(b byte) registry.SessionID {
	var id registry.SessionID
	id[15] = b
	return id
}

func TestServeHTTPRejectsFailedJoin(t *testing.T) {
	inbound := mailbox.NewInboundMailbox(8, 4096, nil)
	server := New(inbound, func(*http.Request) (registry.SessionID, bool) {
		return registry.SessionID{}, false
	})
	ts := httptest.NewServer(server)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial failure for rejected join")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", resp)
	}
}

func TestServeHTTPEnqueuesInboundFrames(t *testing.T) {
	inbound := mailbox.NewInboundMailbox(8, 4096, nil)
	session := testSession(1)
	server := New(inbound, func(*http.Request) (registry.SessionID, bool) {
		return session, true
	})
	ts := httptest.NewServer(server)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("move-forward")); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		applied := 0
		inbound.Drain(func(s registry.SessionID, f mailbox.Frame) {
			applied++
			if s != session {
				t.Fatalf("unexpected session %v", s)
			}
			if string(f.Lease.Bytes()) != "move-forward" {
				t.Fatalf("unexpected payload %q", f.Lease.Bytes())
			}
			f.Lease.Release()
		})
		if applied > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected frame to be enqueued within deadline")
}

func TestSendFailsForUnknownSession(t *testing.T) {
	inbound := mailbox.NewInboundMailbox(8, 4096, nil)
	server := New(inbound, func(*http.Request) (registry.SessionID, bool) { return registry.SessionID{}, true })
	if err := server.Send(testSession(9), outbound.Snapshot{}); err == nil {
		t.Fatal("expected error sending to a session with no live connection")
	}
}

func TestDropAllForSessionClosesConnectionAndClearsQueue(t *testing.T) {
	inbound := mailbox.NewInboundMailbox(8, 4096, nil)
	session := testSession(2)
	server := New(inbound, func(*http.Request) (registry.SessionID, bool) { return session, true })
	ts := httptest.NewServer(server)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		connected, _ := server.Snapshot()
		if connected == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	server.DropAllForSession(session)

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		connected, _ := server.Snapshot()
		if connected == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected connection to be dropped")
}
