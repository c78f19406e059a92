package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartgrow/growd/internal/control"
	"github.com/smartgrow/growd/internal/eventbus"
)

type wireFrame struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

func dialHub(t *testing.T) (*Server, *websocket.Conn) {
	t.Helper()
	s, _ := newTestServer()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Hub().Run(ctx)
	}()

	srv := httptest.NewServer(s.Handler())
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		<-done
		srv.Close()
	})
	return s, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f wireFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHub_StateInitFirst(t *testing.T) {
	_, conn := dialHub(t)

	f := readFrame(t, conn)
	if f.Type != typeStateInit {
		t.Fatalf("first frame type = %q, want %q", f.Type, typeStateInit)
	}
	var snap Snapshot
	if err := json.Unmarshal(f.Data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if !snap.Ready || snap.State != control.DefaultState() {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestHub_DropsOutOfOrderEvents(t *testing.T) {
	s, conn := dialHub(t)
	readFrame(t, conn)
	waitClients(t, s.Hub(), 1)

	newer := control.StateChange{State: control.State{LightsOn: true}, Ready: true}
	older := control.StateChange{State: control.State{LightsOn: false}, Ready: true}

	s.Hub().HandleEvent(eventbus.Event{Type: eventbus.EventTypeStateChanged, Seq: 7, Data: newer})
	s.Hub().HandleEvent(eventbus.Event{Type: eventbus.EventTypeStateChanged, Seq: 5, Data: older})
	s.Hub().HandleEvent(eventbus.Event{Type: eventbus.EventTypePulseChanged, Seq: 6, Data: control.PulseChange{Actuator: control.ActuatorIrrigation}})

	f := readFrame(t, conn)
	if f.Type != string(eventbus.EventTypeStateChanged) {
		t.Fatalf("frame type = %q", f.Type)
	}
	var got control.StateChange
	if err := json.Unmarshal(f.Data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.State.LightsOn {
		t.Error("received stale state")
	}

	if f := readFrame(t, conn); f.Type != string(eventbus.EventTypePulseChanged) {
		t.Errorf("second frame type = %q, want pulse_changed", f.Type)
	}
}

func TestHub_ForwardsBusEvents(t *testing.T) {
	bus := eventbus.NewWithConfig(1, 16)
	defer bus.Close(context.Background())

	s, _ := newTestServer()
	s.Hub().SubscribeTo(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Hub().Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readFrame(t, conn)
	waitClients(t, s.Hub(), 1)

	bus.Publish(eventbus.Event{Type: eventbus.EventTypeNotificationChanged, Data: map[string]any{"current": nil}})

	if f := readFrame(t, conn); f.Type != string(eventbus.EventTypeNotificationChanged) {
		t.Errorf("frame type = %q, want notification_changed", f.Type)
	}
}

func TestHub_ClientRemovedOnDisconnect(t *testing.T) {
	s, conn := dialHub(t)
	readFrame(t, conn)
	waitClients(t, s.Hub(), 1)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	waitClients(t, s.Hub(), 0)
}
