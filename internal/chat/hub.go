package chat

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"foodshare-chat/internal/models"
	"foodshare-chat/internal/repository"
	"foodshare-chat/internal/types"
)

type Options struct {
	SendBuffer      int
	MaxMessageBytes int64
	StoreTimeout    time.Duration
	RateBurst       int
	RateInterval    time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 8192
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 10
	}
	if o.RateInterval <= 0 {
		o.RateInterval = 200 * time.Millisecond
	}
	return o
}

// delivery is one fan-out request. Targets are the union of every client
// (when all is set), the members of rooms, and direct, minus exclude.
type delivery struct {
	all     bool
	rooms   []string
	direct  *Client
	exclude *Client
	payload []byte
}

// Hub owns presence, rooms and the session set. All of that state is read
// and written only by the Run goroutine; everything else talks to it over
// channels.
type Hub struct {
	store    repository.MessageRepo
	opts     Options
	presence *Presence
	rooms    *Rooms
	clients  map[*Client]struct{}

	Register   chan *Client
	Unregister chan *Client
	Quit       chan struct{}

	deliver  chan *delivery
	queries  chan func()
	done     chan struct{}
	quitOnce sync.Once
	doneOnce sync.Once
	started  atomic.Bool
}

func NewHub(store repository.MessageRepo, opts Options) *Hub {
	log.Println("[HUB] Initializing new Hub instance...")
	return &Hub{
		store:      store,
		opts:       opts.withDefaults(),
		presence:   NewPresence(),
		rooms:      NewRooms(),
		clients:    make(map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Quit:       make(chan struct{}),
		deliver:    make(chan *delivery, 256),
		queries:    make(chan func()),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	h.started.Store(true)
	log.Println("[HUB] Main loop started. Listening for events...")
	defer h.closeDone()

	for {
		select {
		case <-h.Quit:
			log.Printf("[HUB] Quit signal received. Closing %d client connections...", len(h.clients))
			for c := range h.clients {
				h.rooms.LeaveAll(c)
				h.presence.Unregister(c.ID)
				delete(h.clients, c)
				c.close()
			}
			onlineIdentities.Set(0)
			return

		case c := <-h.Register:
			h.connect(c)

		case c := <-h.Unregister:
			h.disconnect(c)

		case d := <-h.deliver:
			h.fanOut(d)

		case q := <-h.queries:
			q()
		}
	}
}

// Stop closes Quit and waits for Run to return. On a hub whose Run never
// started it marks the hub done and returns at once; a later Run exits
// immediately.
func (h *Hub) Stop() {
	h.quitOnce.Do(func() { close(h.Quit) })
	if !h.started.Load() {
		h.closeDone()
		return
	}
	<-h.done
}

func (h *Hub) closeDone() {
	h.doneOnce.Do(func() { close(h.done) })
}

func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Attach hands c to the hub loop. It reports false when the hub has stopped.
func (h *Hub) Attach(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Detach(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) route(ds ...*delivery) {
	for _, d := range ds {
		select {
		case h.deliver <- d:
		case <-h.done:
			return
		}
	}
}

func (h *Hub) connect(c *Client) {
	if c == nil {
		log.Printf("[HUB] Received nil client registration; skipping")
		return
	}
	if _, ok := h.clients[c]; ok || c.State() == StateDisconnected {
		return
	}

	h.clients[c] = struct{}{}
	c.setState(StateConnected)
	connectionsActive.Inc()

	if c.Identity.Anonymous() {
		log.Printf("[HUB] Anonymous connection %s registered. Total active: %d", c.label(), len(h.clients))
		h.sendPresenceTo(c)
		return
	}

	h.rooms.Join(c.Identity.ID, c)
	h.presence.Register(c.ID, c.Identity)
	log.Printf("[HUB] Successfully registered %s (%s). Total active: %d", c.Identity.ID, c.Identity.Role, len(h.clients))

	h.broadcastPresence()
}

func (h *Hub) disconnect(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	delete(h.clients, c)
	h.rooms.LeaveAll(c)
	changed := h.presence.Unregister(c.ID)
	c.close()
	log.Printf("[HUB] Session closed for %s. Active clients remaining: %d", c.label(), len(h.clients))

	if changed {
		h.broadcastPresence()
	}
}

func (h *Hub) presencePayload() []byte {
	online := h.presence.ListDistinct()
	onlineIdentities.Set(float64(len(online)))

	payload, err := types.NewEnvelope(types.EventOnlineUsers, types.NewPresenceList(online))
	if err != nil {
		log.Printf("[HUB] Failed to encode presence list: %v", err)
		return nil
	}
	return payload
}

func (h *Hub) broadcastPresence() {
	if payload := h.presencePayload(); payload != nil {
		h.fanOut(&delivery{all: true, payload: payload})
	}
}

func (h *Hub) sendPresenceTo(c *Client) {
	if payload := h.presencePayload(); payload != nil {
		h.fanOut(&delivery{direct: c, payload: payload})
	}
}

func (h *Hub) targets(d *delivery) map[*Client]struct{} {
	set := make(map[*Client]struct{})
	if d.all {
		for c := range h.clients {
			set[c] = struct{}{}
		}
	}
	for _, room := range d.rooms {
		for c := range h.rooms.Members(room) {
			set[c] = struct{}{}
		}
	}
	if d.direct != nil {
		if _, ok := h.clients[d.direct]; ok {
			set[d.direct] = struct{}{}
		}
	}
	if d.exclude != nil {
		delete(set, d.exclude)
	}
	return set
}

func (h *Hub) fanOut(d *delivery) {
	var slow []*Client
	for c := range h.targets(d) {
		select {
		case c.Send <- d.payload:
			fanoutDeliveries.Inc()
		default:
			slow = append(slow, c)
		}
	}

	for _, c := range slow {
		log.Printf("[HUB] WARNING: Client %s buffer full. Evicting slow consumer.", c.label())
		slowConsumersEvicted.Inc()
		h.disconnect(c)
	}
}

// query runs fn on the hub loop and waits for it.
func (h *Hub) query(fn func()) bool {
	finished := make(chan struct{})
	select {
	case h.queries <- func() { fn(); close(finished) }:
	case <-h.done:
		return false
	}
	<-finished
	return true
}

// OnlineUsers returns the de-duplicated presence set.
func (h *Hub) OnlineUsers() []models.Identity {
	var out []models.Identity
	h.query(func() { out = h.presence.ListDistinct() })
	return out
}

func (h *Hub) ClientCount() int {
	var n int
	h.query(func() { n = len(h.clients) })
	return n
}

// RoomSize reports how many live sessions are subscribed to room.
func (h *Hub) RoomSize(room string) int {
	var n int
	h.query(func() { n = len(h.rooms.Members(room)) })
	return n
}
