package chat

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"foodshare-chat/internal/middleware"
	"foodshare-chat/internal/models"
	"foodshare-chat/internal/types"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait     = 5 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 10 * time.Second
	warningWindow = 3 * time.Second

	typingBurst  = 20
	typingRefill = 100 * time.Millisecond
)

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	}
	return "UNKNOWN"
}

// Client is one live socket. Send is closed by the hub loop exactly once,
// when the session leaves the hub.
type Client struct {
	ID          uuid.UUID
	Hub         *Hub
	Conn        *websocket.Conn
	Send        chan []byte
	Identity    models.Identity
	Limiter     *middleware.RateLimiter
	// TypingLimiter meters typing/stop_typing on their own so indicator
	// traffic never spends the message budget.
	TypingLimiter *middleware.RateLimiter
	LastWarning   time.Time

	rooms map[string]struct{}
	state atomic.Int32
	once  sync.Once
}

func NewClient(h *Hub, conn *websocket.Conn, identity models.Identity) *Client {
	return &Client{
		ID:            uuid.New(),
		Hub:           h,
		Conn:          conn,
		Send:          make(chan []byte, h.opts.SendBuffer),
		Identity:      identity,
		Limiter:       middleware.NewRatelimiter(h.opts.RateBurst, h.opts.RateInterval),
		TypingLimiter: middleware.NewRatelimiter(typingBurst, typingRefill),
		rooms:         make(map[string]struct{}),
	}
}

func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Client) setState(s ConnState) {
	c.state.Store(int32(s))
}

func (c *Client) label() string {
	if c.Identity.Anonymous() {
		return "anon:" + c.ID.String()[:8]
	}
	return c.Identity.ID
}

// close runs on the hub loop only.
func (c *Client) close() {
	c.once.Do(func() {
		c.setState(StateDisconnected)
		close(c.Send)
		connectionsActive.Dec()
	})
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.Send)
			for i := 0; i < n; i++ {
				msg, ok := <-c.Send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(msg)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Detach(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Hub.opts.MaxMessageBytes)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[CLIENT] Unexpected close for %s: %v", c.label(), err)
			}
			break
		}

		c.Hub.Dispatch(c, message)
	}
}

// allow charges event against the bucket that meters it.
func (c *Client) allow(event types.EventType) bool {
	if event == types.EventTyping || event == types.EventStopTyping {
		return c.TypingLimiter.Allow()
	}
	return c.Limiter.Allow()
}

func (c *Client) warnRateLimited() {
	if time.Since(c.LastWarning) <= warningWindow {
		return
	}
	warning, err := types.NewEnvelope(types.EventSystem, types.SystemNotice{Content: "⚠️ Rate limit exceeded."})
	if err != nil {
		return
	}
	c.LastWarning = time.Now()
	c.Hub.route(&delivery{direct: c, payload: warning})
}
