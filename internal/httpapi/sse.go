package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Event is one SSE payload from spec.md §4.6: new_prompt, session_started,
// observation_queued, summarize_queued, session_completed, processing_status.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Broadcaster fans a single Event stream out to every connected SSE client,
// grounded on the teacher's internal/a2a/sse.SSEWriter framing
// ("data: ...\n\n" over an http.Flusher), generalised from one JSON-RPC
// response per write to an arbitrary typed Event.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[chan Event]struct{})}
}

func (b *Broadcaster) subscribe() chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broadcaster) unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

// Publish delivers ev to every subscriber. Per spec.md §5, SSE events for one
// session arrive in the order their triggering writes committed; Publish
// being called synchronously from the committing code path is what
// guarantees that ordering.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- ev:
		default:
			// a slow client must never block the writer that just committed
			// a Store transaction; drop for that client instead.
		}
	}
}

func (b *Broadcaster) BroadcastSessionCompleted(contentSessionID string) {
	b.Publish(Event{Type: "session_completed", Data: map[string]string{"contentSessionId": contentSessionID}})
}

// ServeHTTP streams events as "data: <json>\n\n" lines, per spec.md §4.6.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := b.subscribe()
	defer b.unsubscribe(ch)

	ctx := r.Context()
	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
