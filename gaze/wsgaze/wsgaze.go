// Package wsgaze receives gaze samples over WebSocket. Eye tracker bridges
// and browser pages send one JSON message per sample:
//
//	{"x": 0.42, "y": 0.17, "t": 1718000000123}
//
// x and y are normalized image coordinates, t is an optional Unix timestamp
// in milliseconds.
package wsgaze

import (
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MichaelMauderer/Gazer/gaze"
)

// Message is the wire format of one gaze sample.
type Message struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T int64   `json:"t,omitempty"`
}

// Sample converts the message, stamping it with now when t is absent.
func (m Message) Sample(now time.Time) gaze.Sample {
	ts := now
	if m.T > 0 {
		ts = time.UnixMilli(m.T)
	}
	return gaze.Sample{Timestamp: ts, Pos: gaze.Position{X: m.X, Y: m.Y}}
}

// Server upgrades HTTP requests and pushes every received sample into Sink.
type Server struct {
	Sink     *gaze.Latest
	upgrader websocket.Upgrader

	active   int64
	rejected int64
}

// NewServer returns a Server feeding sink.
func NewServer(sink *gaze.Latest) *Server {
	return &Server{
		Sink: sink,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Active returns the number of open connections.
func (s *Server) Active() int64 {
	return atomic.LoadInt64(&s.active)
}

// Rejected returns how many malformed messages were dropped.
func (s *Server) Rejected() int64 {
	return atomic.LoadInt64(&s.rejected)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade gaze connection from %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	atomic.AddInt64(&s.active, 1)
	defer atomic.AddInt64(&s.active, -1)
	log.Printf("Gaze source connected: %s", r.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Gaze connection from %s closed: %v", r.RemoteAddr, err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			atomic.AddInt64(&s.rejected, 1)
			continue
		}
		s.Sink.Push(msg.Sample(time.Now()))
	}
}
