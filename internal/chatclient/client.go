// Package chatclient is a Go client for the chat socket. It keeps a local
// view of threads, presence and typing indicators, renders sends
// optimistically and reconciles them with the server echo.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"foodshare-chat/internal/models"
	"foodshare-chat/internal/types"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

var ErrClosed = errors.New("chat client closed")

type Options struct {
	UserID string
	Role   string
	Token  string
	Header http.Header
	Dialer *websocket.Dialer

	// TypingIdle is how long after the last Typing call a stop_typing is sent.
	TypingIdle time.Duration
	// TypingTimeout expires a remote typing indicator that never got a stop.
	TypingTimeout time.Duration
	EventBuffer   int
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.TypingIdle <= 0 {
		o.TypingIdle = time.Second
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = 3 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
	return o
}

// Draft is an outgoing message before the server has seen it.
type Draft struct {
	Body       string
	Kind       models.MessageKind
	Attachment *models.Attachment
}

// Entry is one line of a local thread. Pending entries are optimistic
// renders still waiting for the server echo.
type Entry struct {
	types.MessageView
	Pending bool
}

type typingState struct {
	key     string
	to      string
	private bool
	gen     uint64
}

type Controller struct {
	conn *websocket.Conn
	opts Options
	self string
	now  func() time.Time

	writeMu sync.Mutex

	mu      sync.Mutex
	online  []types.PresenceView
	threads map[string][]Entry
	typing  map[string]map[string]time.Time
	own     *typingState
	ownGen  uint64
	idle    *time.Timer

	refSeq atomic.Uint64
	events chan types.Envelope
	done   chan struct{}
	err    error
}

func handshakeURL(wsURL string, opts Options) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	if opts.UserID != "" {
		q.Set("userId", opts.UserID)
	}
	if opts.Role != "" {
		q.Set("userRole", opts.Role)
	}
	if opts.Token != "" {
		q.Set("token", opts.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens a session. With a token the server decides the identity; the
// local view still uses UserID to tell own messages apart, so callers using
// tokens should set UserID to the token subject.
func Dial(ctx context.Context, wsURL string, opts Options) (*Controller, error) {
	opts = opts.withDefaults()

	target, err := handshakeURL(wsURL, opts)
	if err != nil {
		return nil, err
	}

	conn, resp, err := opts.Dialer.DialContext(ctx, target, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", wsURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &Controller{
		conn:    conn,
		opts:    opts,
		self:    opts.UserID,
		now:     time.Now,
		threads: make(map[string][]Entry),
		typing:  make(map[string]map[string]time.Time),
		events:  make(chan types.Envelope, opts.EventBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Controller) Events() <-chan types.Envelope { return c.events }

func (c *Controller) Done() <-chan struct{} { return c.done }

// Err reports why the read loop stopped. It is nil until Done is closed.
func (c *Controller) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Controller) Close() error {
	c.mu.Lock()
	if c.idle != nil {
		c.idle.Stop()
	}
	c.own = nil
	c.mu.Unlock()

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(writeWait):
	}
	return c.conn.Close()
}

func (c *Controller) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.err = err
			}
			return
		}

		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var env types.Envelope
			if err := json.Unmarshal(line, &env); err != nil {
				log.Printf("[CLIENT] Skipping undecodable frame: %v", err)
				continue
			}
			c.apply(env)

			select {
			case c.events <- env:
			default:
				log.Printf("[CLIENT] Event buffer full; dropping %s", env.Type)
			}
		}
	}
}

func (c *Controller) apply(env types.Envelope) {
	switch env.Type {
	case types.EventChatMessage, types.EventPrivateMessage:
		var v types.MessageView
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return
		}
		c.mu.Lock()
		key := threadKey(v)
		c.reconcile(key, v)
		delete(c.typing[key], v.Sender)
		c.mu.Unlock()

	case types.EventOnlineUsers:
		var list []types.PresenceView
		if err := json.Unmarshal(env.Payload, &list); err != nil {
			return
		}
		c.mu.Lock()
		c.online = list
		c.mu.Unlock()

	case types.EventTyping, types.EventStopTyping:
		var ev types.TypingEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil || ev.From == c.self {
			return
		}
		key := models.GlobalRoom
		if ev.IsPrivate {
			key = ev.From
		}
		c.mu.Lock()
		if env.Type == types.EventTyping {
			if c.typing[key] == nil {
				c.typing[key] = make(map[string]time.Time)
			}
			c.typing[key][ev.From] = c.now().Add(c.opts.TypingTimeout)
		} else {
			delete(c.typing[key], ev.From)
		}
		c.mu.Unlock()

	case types.EventMessageRead:
		var r types.ReadReceipt
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			return
		}
		c.mu.Lock()
		for key, entries := range c.threads {
			for i := range entries {
				if entries[i].ID == r.MessageID {
					c.threads[key][i].Read = true
				}
			}
		}
		c.mu.Unlock()
	}
}

func threadKey(v types.MessageView) string {
	if !v.IsPrivate {
		return models.GlobalRoom
	}
	if v.ConversationID != "" {
		return v.ConversationID
	}
	return v.OtherUser
}

// reconcile swaps the pending entry carrying v.ClientRef for v, or appends
// v when there is none. Callers hold mu.
func (c *Controller) reconcile(key string, v types.MessageView) {
	entries := c.threads[key]
	if v.ClientRef != "" && v.Sender == c.self {
		for i := range entries {
			if entries[i].Pending && entries[i].ClientRef == v.ClientRef {
				entries[i] = Entry{MessageView: v}
				return
			}
		}
	}
	for i := range entries {
		if !entries[i].Pending && entries[i].ID == v.ID {
			return
		}
	}
	c.threads[key] = append(entries, Entry{MessageView: v})
}

func (c *Controller) write(t types.EventType, payload any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	raw, err := types.NewEnvelope(t, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("write %s: %w", t, err)
	}
	return nil
}

func (c *Controller) nextRef() string {
	return c.self + "-" + strconv.FormatUint(c.refSeq.Add(1), 10)
}

func (c *Controller) addPending(key, to string, d Draft, ref string) {
	now := c.now()
	v := types.MessageView{
		Sender:     c.self,
		SenderName: c.self,
		Recipient:  to,
		Body:       d.Body,
		Kind:       d.Kind,
		Attachment: d.Attachment,
		SentAt:     now,
		Timestamp:  now.Format(models.DisplayTimeLayout),
		IsPrivate:  to != models.GlobalRoom,
		ClientRef:  ref,
	}
	if v.Kind == "" {
		v.Kind = models.KindText
	}
	if v.IsPrivate {
		v.OtherUser = to
		v.ConversationID = to
	}

	c.mu.Lock()
	c.threads[key] = append(c.threads[key], Entry{MessageView: v, Pending: true})
	c.mu.Unlock()
}

// SendGlobal posts to the shared channel and returns the clientRef of the
// pending entry.
func (c *Controller) SendGlobal(d Draft) (string, error) {
	ref := c.nextRef()
	c.addPending(models.GlobalRoom, models.GlobalRoom, d, ref)
	c.StopTyping()

	return ref, c.write(types.EventChatMessage, types.GlobalMessageCommand{
		SenderIdentity: c.self,
		Role:           c.opts.Role,
		Body:           d.Body,
		Kind:           string(d.Kind),
		Attachment:     d.Attachment,
		ClientRef:      ref,
	})
}

func (c *Controller) SendPrivate(to string, d Draft) (string, error) {
	to, err := models.NormalizeIdentityKey(to)
	if err != nil {
		return "", err
	}

	ref := c.nextRef()
	c.addPending(to, to, d, ref)
	c.StopTyping()

	return ref, c.write(types.EventPrivateMessage, types.PrivateMessageCommand{
		From:       c.self,
		To:         to,
		Role:       c.opts.Role,
		Body:       d.Body,
		Kind:       string(d.Kind),
		Attachment: d.Attachment,
		ClientRef:  ref,
	})
}

// Typing announces typing in the thread for to ("" or "global" for the shared
// channel). Only the first call of a burst goes on the wire; a stop_typing
// follows TypingIdle after the last call.
func (c *Controller) Typing(to string) error {
	private := to != "" && to != models.GlobalRoom
	key := models.GlobalRoom
	if private {
		key = to
	}

	c.mu.Lock()
	prev := c.own
	c.ownGen++
	gen := c.ownGen
	cur := &typingState{key: key, to: to, private: private, gen: gen}
	c.own = cur
	if c.idle != nil {
		c.idle.Stop()
	}
	c.idle = time.AfterFunc(c.opts.TypingIdle, func() { c.idleStop(gen) })
	c.mu.Unlock()

	if prev != nil && prev.key == key {
		return nil
	}
	if prev != nil {
		if err := c.sendTyping(types.EventStopTyping, prev); err != nil {
			return err
		}
	}
	return c.sendTyping(types.EventTyping, cur)
}

func (c *Controller) idleStop(gen uint64) {
	c.mu.Lock()
	cur := c.own
	if cur == nil || cur.gen != gen {
		c.mu.Unlock()
		return
	}
	c.own = nil
	c.mu.Unlock()

	if err := c.sendTyping(types.EventStopTyping, cur); err != nil && !errors.Is(err, ErrClosed) {
		log.Printf("[CLIENT] stop_typing failed: %v", err)
	}
}

// StopTyping ends the current typing burst now. It is a no-op when not typing.
func (c *Controller) StopTyping() error {
	c.mu.Lock()
	cur := c.own
	c.own = nil
	if c.idle != nil {
		c.idle.Stop()
	}
	c.mu.Unlock()

	if cur == nil {
		return nil
	}
	return c.sendTyping(types.EventStopTyping, cur)
}

func (c *Controller) sendTyping(t types.EventType, st *typingState) error {
	ev := types.TypingEvent{From: c.self, IsPrivate: st.private}
	if st.private {
		ev.To = st.to
	}
	return c.write(t, ev)
}

func (c *Controller) MarkRead(messageID, sender string) error {
	return c.write(types.EventMarkRead, types.MarkReadCommand{
		MessageID:      messageID,
		ReaderIdentity: c.self,
		SenderIdentity: sender,
	})
}

func (c *Controller) OnlineUsers() []types.PresenceView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.PresenceView(nil), c.online...)
}

// Thread returns a copy of the local thread: "global" or the other user's id.
func (c *Controller) Thread(key string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.threads[key]...)
}

// TypingIn lists who is currently typing in the thread, sorted.
func (c *Controller) TypingIn(key string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var out []string
	for from, until := range c.typing[key] {
		if now.Before(until) {
			out = append(out, from)
		} else {
			delete(c.typing[key], from)
		}
	}
	sort.Strings(out)
	return out
}
