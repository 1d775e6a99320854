// Package sse streams trip change events to browsers over Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

const (
	clientBuffer = 64
	historySize  = 128
)

// reloadFrame tells a resuming client that it missed more than can be
// replayed. It carries no id so the client's Last-Event-ID stays put.
var reloadFrame = []byte("event: trips.changed\ndata: {}\n\n")

// Event is one message broadcast to every subscriber.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// TripChange is the payload of trip.* events.
type TripChange struct {
	ID string `json:"id"`
	// Source is "store" for writes made through this process and "disk" for
	// edits the watcher found in the data directory.
	Source string `json:"source"`
}

var tripKinds = map[string]bool{"created": true, "updated": true, "deleted": true}

type frame struct {
	seq uint64
	raw []byte
}

// hub is the state owned by the broker goroutine.
type hub struct {
	clients map[chan []byte]struct{}
	seq     uint64
	history []frame

	listMin   time.Duration
	lastList  time.Time
	listTimer *time.Timer
	// listDue fires when a trailing trips.changed is owed; nil otherwise.
	listDue <-chan time.Time
}

func (h *hub) send(typ string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	h.seq++
	f := frame{seq: h.seq, raw: fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", h.seq, typ, payload)}
	if len(h.history) == historySize {
		copy(h.history, h.history[1:])
		h.history = h.history[:historySize-1]
	}
	h.history = append(h.history, f)

	for ch := range h.clients {
		select {
		case ch <- f.raw:
		default:
			// slow client: drop rather than stall the loop
		}
	}
}

// replay queues every frame after lastID on ch. When the gap is older than
// the history or larger than the client buffer, ch gets reloadFrame instead.
func (h *hub) replay(ch chan []byte, lastID uint64) {
	if lastID >= h.seq {
		return
	}
	missed := h.seq - lastID
	if missed > uint64(len(h.history)) || missed >= clientBuffer {
		ch <- reloadFrame
		return
	}
	for _, f := range h.history {
		if f.seq > lastID {
			ch <- f.raw
		}
	}
}

// tripChanged broadcasts trip.<kind> and a trips.changed at most once per
// listMin. A change inside the window arms one trailing trips.changed.
func (h *hub) tripChanged(kind string, c TripChange, now time.Time) {
	h.send("trip."+kind, c)
	since := now.Sub(h.lastList)
	switch {
	case since >= h.listMin:
		h.lastList = now
		h.send("trips.changed", struct{}{})
	case h.listDue == nil:
		h.listTimer = time.NewTimer(h.listMin - since)
		h.listDue = h.listTimer.C
	}
}

func (h *hub) flushList(now time.Time) {
	h.listDue = nil
	h.lastList = now
	h.send("trips.changed", struct{}{})
}

func (h *hub) stop() {
	if h.listTimer != nil {
		h.listTimer.Stop()
	}
	for ch := range h.clients {
		close(ch)
	}
}

// Broker fans trip change events out to SSE clients.
//
// One goroutine owns the hub; every public method hands it an operation
// over a single channel.
type Broker struct {
	keepAlive time.Duration

	ops chan func(*hub)

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. listThrottle is the minimum interval between
// two trips.changed events.
func NewBroker(listThrottle time.Duration) *Broker {
	if listThrottle <= 0 {
		listThrottle = 2 * time.Second
	}

	b := &Broker{
		keepAlive: 30 * time.Second,
		ops:       make(chan func(*hub), 256),
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	go b.run(&hub{clients: make(map[chan []byte]struct{}), listMin: listThrottle})
	return b
}

// SetKeepAlive sets how often idle streams receive a comment line. Zero
// disables keep-alives. Call before serving.
func (b *Broker) SetKeepAlive(d time.Duration) { b.keepAlive = d }

func (b *Broker) run(h *hub) {
	defer close(b.stopped)

	for {
		select {
		case <-b.stopCh:
			h.stop()
			return
		case op := <-b.ops:
			op(h)
		case now := <-h.listDue:
			h.flushList(now)
		}
	}
}

// do runs op on the broker goroutine. It reports false once the broker is
// closed.
func (b *Broker) do(op func(*hub)) bool {
	if b.closed.Load() {
		return false
	}
	select {
	case b.ops <- op:
		return true
	case <-b.stopped:
		return false
	}
}

// Close stops the broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	return b.subscribe(0, false)
}

func (b *Broker) subscribe(lastID uint64, resume bool) chan []byte {
	ch := make(chan []byte, clientBuffer)
	ok := b.do(func(h *hub) {
		h.clients[ch] = struct{}{}
		if resume {
			h.replay(ch, lastID)
		}
	})
	if !ok {
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.do(func(h *hub) {
		if _, ok := h.clients[ch]; ok {
			delete(h.clients, ch)
			close(ch)
		}
	})
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	resp := make(chan int, 1)
	if !b.do(func(h *hub) { resp <- len(h.clients) }) {
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	b.do(func(h *hub) { h.send(event.Type, event.Data) })
}

// PublishTripEvent broadcasts trip.<kind> for id followed by a throttled
// trips.changed. Unknown kinds are ignored.
func (b *Broker) PublishTripEvent(kind, id, source string) {
	if !tripKinds[kind] {
		return
	}
	change := TripChange{ID: id, Source: source}
	b.do(func(h *hub) { h.tripChanged(kind, change, time.Now()) })
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). A reconnecting
// client that sends Last-Event-ID gets the events it missed first.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	lastID, err := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)
	ch := b.subscribe(lastID, err == nil)
	defer b.Unsubscribe(ch)

	var tick <-chan time.Time
	if b.keepAlive > 0 {
		t := time.NewTicker(b.keepAlive)
		defer t.Stop()
		tick = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
