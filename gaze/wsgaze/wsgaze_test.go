package wsgaze

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MichaelMauderer/Gazer/gaze"
)

func TestMessageSample(t *testing.T) {
	now := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	s := Message{X: 0.2, Y: 0.8}.Sample(now)
	if !s.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v; want %v", s.Timestamp, now)
	}
	if s.Pos != (gaze.Position{X: 0.2, Y: 0.8}) {
		t.Errorf("Pos = %v; want {0.2 0.8}", s.Pos)
	}

	s = Message{X: 0.1, Y: 0.1, T: 1718000000123}.Sample(now)
	if s.Timestamp.UnixMilli() != 1718000000123 {
		t.Errorf("Timestamp = %d; want 1718000000123", s.Timestamp.UnixMilli())
	}
}

func TestServerPushesSamples(t *testing.T) {
	sink := gaze.NewLatest(nil)
	srv := httptest.NewServer(NewServer(sink))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if err := ws.WriteJSON(Message{X: 0.25, Y: 0.75}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.Received() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	s, ok := sink.NewestSample()
	if !ok {
		t.Fatal("no sample received")
	}
	if s.Pos != (gaze.Position{X: 0.25, Y: 0.75}) {
		t.Errorf("received Pos = %v; want {0.25 0.75}", s.Pos)
	}
}
