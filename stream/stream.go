// Package stream pushes viewer events (frame changes, import progress) to
// browsers over Server-Sent Events.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// MaxSubscribers caps concurrent SSE connections.
	MaxSubscribers = 256
	// SubscriberBuffer is the per-connection queue length.
	SubscriberBuffer = 256
	// KeepAliveInterval is how often an idle connection gets a comment line.
	KeepAliveInterval = 30 * time.Second
	// HubBuffer is the length of the broadcast queue.
	HubBuffer = 2048
)

// Event types.
const (
	TypeConnected = "connected"
	// TypeFrame events carry the displayed depth. Only the newest queued
	// frame event reaches a subscriber.
	TypeFrame = "frame"
	// TypeImport events carry a JSON encoded import job.
	TypeImport = "import"
)

type Message struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

// Stats are counters reported on /health.
type Stats struct {
	Active            int64 `json:"active"`
	Max               int   `json:"max"`
	Delivered         int64 `json:"delivered"`
	DroppedBroadcasts int64 `json:"dropped_broadcasts"`
	DroppedMessages   int64 `json:"dropped_messages"`
	CoalescedFrames   int64 `json:"coalesced_frames"`
	Rejected          int64 `json:"rejected"`
}

type subscriber struct {
	addr  string
	since time.Time
}

type hub struct {
	mu        sync.Mutex
	subs      map[chan Message]*subscriber
	lastFrame *Message

	queue    chan Message
	done     chan struct{}
	stopOnce sync.Once

	delivered         int64
	droppedBroadcasts int64
	droppedMessages   int64
	coalescedFrames   int64
	rejected          int64
}

var events = newHub()

func newHub() *hub {
	h := &hub{
		subs:  make(map[chan Message]*subscriber),
		queue: make(chan Message, HubBuffer),
		done:  make(chan struct{}),
	}
	go h.run()
	return h
}

// GetStats returns the current counters.
func GetStats() Stats {
	events.mu.Lock()
	active := int64(len(events.subs))
	events.mu.Unlock()
	return Stats{
		Active:            active,
		Max:               MaxSubscribers,
		Delivered:         atomic.LoadInt64(&events.delivered),
		DroppedBroadcasts: atomic.LoadInt64(&events.droppedBroadcasts),
		DroppedMessages:   atomic.LoadInt64(&events.droppedMessages),
		CoalescedFrames:   atomic.LoadInt64(&events.coalescedFrames),
		Rejected:          atomic.LoadInt64(&events.rejected),
	}
}

// Subscribe registers a connection. The newest frame event, if any, is
// queued right away so a fresh page shows the current depth. It returns
// false when the hub is full or shut down.
func Subscribe(addr string) (chan Message, bool) {
	events.mu.Lock()
	defer events.mu.Unlock()

	select {
	case <-events.done:
		return nil, false
	default:
	}
	if len(events.subs) >= MaxSubscribers {
		atomic.AddInt64(&events.rejected, 1)
		log.Printf("Subscriber limit reached (%d), rejecting %s", MaxSubscribers, addr)
		return nil, false
	}

	ch := make(chan Message, SubscriberBuffer)
	if events.lastFrame != nil {
		ch <- *events.lastFrame
	}
	events.subs[ch] = &subscriber{addr: addr, since: time.Now()}
	log.Printf("Event subscriber connected: %s (total: %d)", addr, len(events.subs))
	return ch, true
}

// Unsubscribe removes ch and closes it. Unknown channels are ignored.
func Unsubscribe(ch chan Message) {
	events.mu.Lock()
	defer events.mu.Unlock()
	sub, ok := events.subs[ch]
	if !ok {
		return
	}
	delete(events.subs, ch)
	close(ch)
	log.Printf("Event subscriber disconnected: %s after %v (total: %d)",
		sub.addr, time.Since(sub.since).Round(time.Second), len(events.subs))
}

// Broadcast queues msg for every subscriber. It never blocks; when the
// queue is full the message is dropped.
func Broadcast(msg Message) {
	select {
	case events.queue <- msg:
	default:
		atomic.AddInt64(&events.droppedBroadcasts, 1)
	}
}

// BroadcastJSON marshals v as the message body.
func BroadcastJSON(typ string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", typ, err)
	}
	Broadcast(Message{Type: typ, Msg: string(data)})
	return nil
}

func (h *hub) run() {
	for {
		select {
		case msg := <-h.queue:
			h.fanOut(msg)
		case <-h.done:
			return
		}
	}
}

func (h *hub) fanOut(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if msg.Type == TypeFrame {
		m := msg
		h.lastFrame = &m
	}
	for ch := range h.subs {
		select {
		case ch <- msg:
			atomic.AddInt64(&h.delivered, 1)
		default:
			atomic.AddInt64(&h.droppedMessages, 1)
		}
	}
}

// Shutdown disconnects every subscriber and stops the hub.
func Shutdown() {
	events.stopOnce.Do(func() {
		close(events.done)
		events.mu.Lock()
		for ch := range events.subs {
			delete(events.subs, ch)
			close(ch)
		}
		events.mu.Unlock()
		log.Println("Event stream shut down")
	})
}

// coalesce takes first plus whatever is already queued on ch and keeps only
// the newest frame event. Other events keep their order.
func coalesce(first Message, ch <-chan Message) []Message {
	batch := []Message{first}
drain:
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				break drain
			}
			batch = append(batch, msg)
		default:
			break drain
		}
	}

	last := -1
	for i, m := range batch {
		if m.Type == TypeFrame {
			last = i
		}
	}
	out := batch[:0:0]
	for i, m := range batch {
		if m.Type == TypeFrame && i != last {
			atomic.AddInt64(&events.coalescedFrames, 1)
			continue
		}
		out = append(out, m)
	}
	return out
}

func writeEvent(w io.Writer, msg Message) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, msg.Msg)
	return err
}

// StreamHandler serves GET /events.
func StreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, ok := Subscribe(r.RemoteAddr)
	if !ok {
		http.Error(w, "Server at capacity, please try again later", http.StatusServiceUnavailable)
		return
	}
	defer Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Del("Content-Encoding")

	if err := writeEvent(w, Message{Type: TypeConnected, Msg: "ok"}); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			for _, m := range coalesce(msg, ch) {
				if err := writeEvent(w, m); err != nil {
					return
				}
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
