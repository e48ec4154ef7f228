package services

import (
	"log"
	"sync"
	"time"

	"faucetd/internal/config"
	"faucetd/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// BroadcastData is the progress payload sent to every subscriber on
// each update: the high-water marks for dequeued and confirmed claims.
type BroadcastData struct {
	ProcessedIdx int64 `json:"processedIdx"`
	ConfirmedIdx int64 `json:"confirmedIdx"`
}

// outboundMessage is the wire shape for everything written to a
// subscriber's socket.
type outboundMessage struct {
	Action string      `json:"action"`
	Data   interface{} `json:"data,omitempty"`
}

// Subscriber represents one open WebSocket watching a claim's
// progress. It closes itself once its claim of interest has confirmed,
// on ping timeout, or on any socket error.
type Subscriber struct {
	id              string
	conn            *websocket.Conn
	claimIdxOfInterest int64
	send            chan outboundMessage
	lastPong        time.Time
	mu              sync.Mutex
	closed          bool
}

// NotificationHub fans out claim-progress updates to every open
// subscriber, grounded on the teacher's register/unregister channel hub
// plus its ping/pong keepalive pump.
type NotificationHub struct {
	cfg config.HubConfig

	mu            sync.Mutex
	subscribers   map[string]*Subscriber
	lastBroadcast *BroadcastData

	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan BroadcastData
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

func NewNotificationHub(cfg config.HubConfig) *NotificationHub {
	return &NotificationHub{
		cfg:         cfg,
		subscribers: make(map[string]*Subscriber),
		register:    make(chan *Subscriber, 16),
		unregister:  make(chan *Subscriber, 16),
		broadcast:   make(chan BroadcastData, 16),
		stopChan:    make(chan struct{}),
	}
}

// Run drives the hub's single select-loop: register, unregister, and
// broadcast are all serialized through it so the subscriber map never
// needs its own lock during a fan-out.
func (h *NotificationHub) Run() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case sub := <-h.register:
				h.mu.Lock()
				h.subscribers[sub.id] = sub
				last := h.lastBroadcast
				h.mu.Unlock()
				metrics.HubSubscribers.Set(float64(len(h.subscribers)))
				if last != nil {
					sub.deliver(outboundMessage{Action: "update", Data: *last})
				}
			case sub := <-h.unregister:
				h.removeSubscriber(sub)
			case data := <-h.broadcast:
				h.fanOut(data)
			case <-h.stopChan:
				return
			}
		}
	}()
}

func (h *NotificationHub) Stop() {
	close(h.stopChan)
	h.wg.Wait()
}

// Subscribe registers conn as a new subscriber watching claimIdx,
// starts its keepalive pinger and read pump, and returns the
// Subscriber handle.
func (h *NotificationHub) Subscribe(conn *websocket.Conn, claimIdxOfInterest int64) *Subscriber {
	sub := &Subscriber{
		id:                 uuid.NewString(),
		conn:               conn,
		claimIdxOfInterest: claimIdxOfInterest,
		send:               make(chan outboundMessage, 8),
		lastPong:           time.Now(),
	}
	h.register <- sub
	h.wg.Add(2)
	go h.writePump(sub)
	go h.readPump(sub)
	return sub
}

// Broadcast replaces lastBroadcast and queues a fan-out to every
// active subscriber.
func (h *NotificationHub) Broadcast(data BroadcastData) {
	h.mu.Lock()
	h.lastBroadcast = &data
	h.mu.Unlock()
	select {
	case h.broadcast <- data:
	case <-h.stopChan:
	}
}

// Reset clears lastBroadcast; used when the pipeline shuts down so a
// restarted pipeline does not replay stale progress to new subscribers.
func (h *NotificationHub) Reset() {
	h.mu.Lock()
	h.lastBroadcast = nil
	h.mu.Unlock()
}

func (h *NotificationHub) fanOut(data BroadcastData) {
	h.mu.Lock()
	snapshot := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		snapshot = append(snapshot, sub)
	}
	h.mu.Unlock()

	msg := outboundMessage{Action: "update", Data: data}
	for _, sub := range snapshot {
		sub.deliver(msg)
		if data.ConfirmedIdx >= sub.claimIdxOfInterest {
			h.closeSubscriber(sub, "claim confirmed")
		}
	}
}

func (h *NotificationHub) closeSubscriber(sub *Subscriber, reason string) {
	sub.close(reason)
	select {
	case h.unregister <- sub:
	case <-h.stopChan:
	}
}

func (h *NotificationHub) removeSubscriber(sub *Subscriber) {
	h.mu.Lock()
	_, existed := h.subscribers[sub.id]
	delete(h.subscribers, sub.id)
	h.mu.Unlock()
	if existed {
		metrics.HubSubscribers.Set(float64(len(h.subscribers)))
	}
}

func (sub *Subscriber) deliver(msg outboundMessage) {
	sub.mu.Lock()
	closed := sub.closed
	sub.mu.Unlock()
	if closed {
		return
	}
	select {
	case sub.send <- msg:
	default:
		sub.close("send buffer full")
	}
}

func (sub *Subscriber) close(reason string) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	sub.mu.Unlock()
	log.Printf("🔌 [Hub] closing subscriber %s: %s", sub.id, reason)
	close(sub.send)
	sub.conn.Close()
}

func (sub *Subscriber) isClosed() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.closed
}

// writePump serializes every outbound write onto the socket and runs
// the 30-second keepalive pinger; it exits once send is closed.
func (h *NotificationHub) writePump(sub *Subscriber) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-sub.send:
			if !ok {
				return
			}
			if err := sub.conn.WriteJSON(msg); err != nil {
				h.closeSubscriber(sub, "write error")
				return
			}
		case <-ticker.C:
			sub.mu.Lock()
			idle := time.Since(sub.lastPong)
			sub.mu.Unlock()
			if idle > h.cfg.PingTimeout {
				h.closeSubscriber(sub, "ping timeout")
				return
			}
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.closeSubscriber(sub, "ping write error")
				return
			}
		}
	}
}

// readPump only exists to observe pong frames (updating lastPong) and
// detect socket errors/closure from the client side.
func (h *NotificationHub) readPump(sub *Subscriber) {
	defer h.wg.Done()
	sub.conn.SetPongHandler(func(string) error {
		sub.mu.Lock()
		sub.lastPong = time.Now()
		sub.mu.Unlock()
		return nil
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if !sub.isClosed() {
				h.closeSubscriber(sub, "read error")
			}
			return
		}
	}
}
