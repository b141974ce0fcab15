package stream

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// drain empties the hub queue so tests don't see each other's messages.
func drain() {
	for {
		select {
		case <-events.queue:
		default:
			return
		}
	}
}

// resetLastFrame forgets the replayed frame event.
func resetLastFrame() {
	events.mu.Lock()
	events.lastFrame = nil
	events.mu.Unlock()
}

func receive(t *testing.T, ch chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return Message{}
}

// =============================================================================
// Subscribers
// =============================================================================

func TestSubscribeUnsubscribe(t *testing.T) {
	resetLastFrame()
	before := GetStats().Active

	ch, ok := Subscribe("127.0.0.1:12345")
	if !ok {
		t.Fatal("Subscribe() should succeed")
	}
	if got := GetStats().Active; got != before+1 {
		t.Errorf("Active = %d; want %d", got, before+1)
	}

	Unsubscribe(ch)
	if got := GetStats().Active; got != before {
		t.Errorf("Active after Unsubscribe = %d; want %d", got, before)
	}
	if _, open := <-ch; open {
		t.Error("Unsubscribe() should close the channel")
	}
}

func TestUnsubscribeUnknown(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Unsubscribe panicked: %v", r)
		}
	}()
	Unsubscribe(make(chan Message, 1))
}

func TestSubscribeReplaysLastFrame(t *testing.T) {
	drain()
	resetLastFrame()

	first, _ := Subscribe("a")
	defer Unsubscribe(first)
	Broadcast(Message{Type: TypeFrame, Msg: "4"})
	receive(t, first)

	late, _ := Subscribe("b")
	defer Unsubscribe(late)
	if m := receive(t, late); m != (Message{Type: TypeFrame, Msg: "4"}) {
		t.Errorf("replayed message = %+v; want frame 4", m)
	}
}

// =============================================================================
// Broadcast
// =============================================================================

func TestBroadcast(t *testing.T) {
	drain()
	resetLastFrame()
	before := GetStats().Delivered

	ch, _ := Subscribe("127.0.0.1:12345")
	defer Unsubscribe(ch)

	msg := Message{Type: TypeFrame, Msg: "3"}
	Broadcast(msg)
	if got := receive(t, ch); got != msg {
		t.Errorf("received %+v; want %+v", got, msg)
	}
	if GetStats().Delivered <= before {
		t.Errorf("Delivered should have increased from %d", before)
	}
}

func TestBroadcastJSON(t *testing.T) {
	drain()
	resetLastFrame()
	ch, _ := Subscribe("127.0.0.1:23456")
	defer Unsubscribe(ch)

	if err := BroadcastJSON(TypeImport, map[string]string{"id": "abc"}); err != nil {
		t.Fatalf("BroadcastJSON() error = %v", err)
	}
	if got := receive(t, ch); got.Type != TypeImport || got.Msg != `{"id":"abc"}` {
		t.Errorf("received %+v", got)
	}

	if err := BroadcastJSON(TypeImport, make(chan int)); err == nil {
		t.Error("BroadcastJSON() of an unmarshalable value should fail")
	}
}

func TestBroadcastNeverBlocks(t *testing.T) {
	done := make(chan struct{})
	go func() {
		for i := 0; i < HubBuffer+100; i++ {
			Broadcast(Message{Type: TypeFrame, Msg: "flood"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked")
	}
	drain()
}

func TestCoalesce(t *testing.T) {
	tests := []struct {
		name     string
		first    Message
		queued   []Message
		expected []Message
	}{
		{
			name:     "Nothing queued",
			first:    Message{Type: TypeFrame, Msg: "1"},
			expected: []Message{{Type: TypeFrame, Msg: "1"}},
		},
		{
			name:     "Newest frame wins",
			first:    Message{Type: TypeFrame, Msg: "1"},
			queued:   []Message{{Type: TypeFrame, Msg: "2"}, {Type: TypeFrame, Msg: "3"}},
			expected: []Message{{Type: TypeFrame, Msg: "3"}},
		},
		{
			name:  "Other events keep their order",
			first: Message{Type: TypeImport, Msg: "a"},
			queued: []Message{
				{Type: TypeFrame, Msg: "1"},
				{Type: TypeImport, Msg: "b"},
				{Type: TypeFrame, Msg: "2"},
			},
			expected: []Message{
				{Type: TypeImport, Msg: "a"},
				{Type: TypeImport, Msg: "b"},
				{Type: TypeFrame, Msg: "2"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan Message, len(tt.queued))
			for _, m := range tt.queued {
				ch <- m
			}
			got := coalesce(tt.first, ch)
			if len(got) != len(tt.expected) {
				t.Fatalf("coalesce() = %+v; want %+v", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("coalesce()[%d] = %+v; want %+v", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestWriteEvent(t *testing.T) {
	tests := []struct {
		msg      Message
		expected string
	}{
		{Message{Type: TypeFrame, Msg: "2.5"}, "event: frame\ndata: 2.5\n\n"},
		{Message{Type: TypeImport, Msg: `{"id":"123"}`}, "event: import\ndata: {\"id\":\"123\"}\n\n"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := writeEvent(&buf, tt.msg); err != nil {
			t.Fatal(err)
		}
		if buf.String() != tt.expected {
			t.Errorf("writeEvent(%+v) = %q; want %q", tt.msg, buf.String(), tt.expected)
		}
	}
}

// =============================================================================
// Handler
// =============================================================================

func TestStreamHandler(t *testing.T) {
	drain()
	resetLastFrame()
	srv := httptest.NewServer(http.HandlerFunc(StreamHandler))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q; want text/event-stream", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || line != "event: connected\n" {
		t.Fatalf("first line = %q, %v; want connected event", line, err)
	}

	// The subscription exists before the greeting is written.
	Broadcast(Message{Type: TypeFrame, Msg: "7"})

	lines := make(chan string)
	go func() {
		for {
			l, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- l
		}
	}()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case l, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before frame event")
			}
			if strings.TrimSpace(l) == "data: 7" {
				return
			}
		case <-timeout:
			t.Fatal("frame event not received")
		}
	}
}

func TestStats(t *testing.T) {
	s := GetStats()
	if s.Max != MaxSubscribers {
		t.Errorf("Max = %d; want %d", s.Max, MaxSubscribers)
	}
	if s.Active < 0 {
		t.Errorf("Active = %d", s.Active)
	}
}
