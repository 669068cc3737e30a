package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"foodshare-chat/internal/models"
	"foodshare-chat/internal/repository"
	"foodshare-chat/internal/types"

	"github.com/google/uuid"
)

var (
	errMalformed = errors.New("malformed event")
	errStore     = errors.New("store failure")
)

// Dispatch handles one inbound frame. It runs on the sender's read
// goroutine: the frame is charged to the session's rate limit, persistence
// happens here in arrival order, and only the resulting fan-out is queued to
// the hub loop. Nothing in here may take the process down; errors are logged
// and the event is dropped.
func (h *Hub) Dispatch(c *Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			eventsDropped.WithLabelValues(reasonPanic).Inc()
			log.Printf("[HUB] Recovered from panic handling event from %s: %v", c.label(), r)
		}
	}()

	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if !c.allow("") {
			h.rateLimited(c)
			return
		}
		h.drop(c, "", fmt.Errorf("%w: undecodable frame: %v", errMalformed, err))
		return
	}

	if !c.allow(env.Type) {
		h.rateLimited(c)
		return
	}

	var err error
	switch env.Type {
	case types.EventChatMessage:
		err = h.sendGlobal(c, env.Payload)
	case types.EventPrivateMessage:
		err = h.sendPrivate(c, env.Payload)
	case types.EventTyping, types.EventStopTyping:
		err = h.relayTyping(c, env.Type, env.Payload)
	case types.EventMarkRead:
		err = h.markRead(c, env.Payload)
	default:
		err = fmt.Errorf("%w: unknown event type %q", errMalformed, env.Type)
		env.Type = "unknown"
	}

	eventsReceived.WithLabelValues(string(env.Type)).Inc()
	if err != nil {
		h.drop(c, env.Type, err)
	}
}

func (h *Hub) rateLimited(c *Client) {
	eventsDropped.WithLabelValues(reasonRateLimited).Inc()
	c.warnRateLimited()
}

func (h *Hub) drop(c *Client, event types.EventType, err error) {
	reason := reasonStoreError
	if errors.Is(err, errMalformed) {
		reason = reasonMalformed
	}
	eventsDropped.WithLabelValues(reason).Inc()
	log.Printf("[HUB] Dropped %s event from %s: %v", event, c.label(), err)
}

func decode(payload json.RawMessage, dst any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: missing payload", errMalformed)
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}

// speaker picks who an event is from. Identified sessions always speak as
// themselves; anonymous sessions must name someone valid.
func (h *Hub) speaker(c *Client, claimed, role string) (models.Identity, error) {
	if !c.Identity.Anonymous() {
		if claimed != "" && claimed != c.Identity.ID && claimed != c.Identity.Name {
			log.Printf("[HUB] Ignoring claimed identity %q from session %s", claimed, c.Identity.ID)
		}
		return c.Identity, nil
	}
	id, err := models.NewGuestIdentity(claimed, role)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: sender %q: %v", errMalformed, claimed, err)
	}
	return id, nil
}

func (h *Hub) persist(op string, fn func(ctx context.Context) (*models.Message, error)) (*models.Message, error) {
	// Not tied to the session: a sender that disconnects mid-call still gets
	// its message stored.
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.StoreTimeout)
	defer cancel()

	start := time.Now()
	m, err := fn(ctx)
	storeDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return m, err
}

func buildMessage(from models.Identity, to, body, kind string, att *models.Attachment) (*models.Message, error) {
	k, err := models.ParseKind(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	m := &models.Message{
		Sender:     from.ID,
		SenderName: from.Name,
		Recipient:  to,
		Role:       from.Role,
		Body:       body,
		Kind:       k,
		Attachment: att,
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return m, nil
}

func (h *Hub) sendGlobal(c *Client, payload json.RawMessage) error {
	var cmd types.GlobalMessageCommand
	if err := decode(payload, &cmd); err != nil {
		return err
	}

	from, err := h.speaker(c, cmd.SenderIdentity, cmd.Role)
	if err != nil {
		return err
	}

	msg, err := buildMessage(from, models.GlobalRoom, cmd.Body, cmd.Kind, cmd.Attachment)
	if err != nil {
		return err
	}

	stored, err := h.persist("append", func(ctx context.Context) (*models.Message, error) {
		return h.store.Append(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("%w: append global message: %v", errStore, err)
	}

	view := types.NewMessageView(stored, "")
	view.ClientRef = cmd.ClientRef
	out, err := types.NewEnvelope(types.EventChatMessage, view)
	if err != nil {
		return err
	}

	log.Printf("[HUB] Broadcasting global message %s from %s", stored.ID, stored.Sender)
	h.route(&delivery{all: true, payload: out})
	return nil
}

func (h *Hub) sendPrivate(c *Client, payload json.RawMessage) error {
	var cmd types.PrivateMessageCommand
	if err := decode(payload, &cmd); err != nil {
		return err
	}

	from, err := h.speaker(c, cmd.From, cmd.Role)
	if err != nil {
		return err
	}
	to, err := models.NormalizeIdentityKey(cmd.To)
	if err != nil {
		return fmt.Errorf("%w: recipient %q: %v", errMalformed, cmd.To, err)
	}

	msg, err := buildMessage(from, to, cmd.Body, cmd.Kind, cmd.Attachment)
	if err != nil {
		return err
	}

	stored, err := h.persist("append", func(ctx context.Context) (*models.Message, error) {
		return h.store.Append(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("%w: append private message: %v", errStore, err)
	}

	senderView := types.NewMessageView(stored, from.ID)
	senderView.ConversationID = to
	senderView.ClientRef = cmd.ClientRef
	echo, err := types.NewEnvelope(types.EventPrivateMessage, senderView)
	if err != nil {
		return err
	}

	log.Printf("[HUB] Routing private message %s: %s -> %s", stored.ID, from.ID, to)

	if to == from.ID {
		h.route(&delivery{rooms: []string{to}, direct: c, payload: echo})
		return nil
	}

	recipientView := types.NewMessageView(stored, to)
	recipientView.ConversationID = from.ID
	recipientView.ClientRef = cmd.ClientRef
	inbound, err := types.NewEnvelope(types.EventPrivateMessage, recipientView)
	if err != nil {
		return err
	}

	h.route(
		&delivery{rooms: []string{to}, payload: inbound},
		&delivery{rooms: []string{from.ID}, direct: c, payload: echo},
	)
	return nil
}

func (h *Hub) relayTyping(c *Client, event types.EventType, payload json.RawMessage) error {
	var ev types.TypingEvent
	if err := decode(payload, &ev); err != nil {
		return err
	}

	from, err := h.speaker(c, ev.From, "")
	if err != nil {
		return err
	}

	out, err := types.NewEnvelope(event, types.TypingEvent{From: from.ID, IsPrivate: ev.IsPrivate})
	if err != nil {
		return err
	}

	if !ev.IsPrivate {
		h.route(&delivery{all: true, exclude: c, payload: out})
		return nil
	}

	to, err := models.NormalizeIdentityKey(ev.To)
	if err != nil {
		return fmt.Errorf("%w: typing recipient %q: %v", errMalformed, ev.To, err)
	}
	h.route(&delivery{rooms: []string{to}, exclude: c, payload: out})
	return nil
}

func (h *Hub) markRead(c *Client, payload json.RawMessage) error {
	var cmd types.MarkReadCommand
	if err := decode(payload, &cmd); err != nil {
		return err
	}

	id, err := uuid.Parse(cmd.MessageID)
	if err != nil {
		return fmt.Errorf("%w: message id %q", errMalformed, cmd.MessageID)
	}

	reader, err := h.speaker(c, cmd.ReaderIdentity, "")
	if err != nil {
		return err
	}

	stored, err := h.persist("mark_read", func(ctx context.Context) (*models.Message, error) {
		return h.store.MarkRead(ctx, id)
	})
	if errors.Is(err, repository.ErrMessageNotFound) {
		log.Printf("[HUB] mark_read for unknown message %s from %s; ignoring", id, reader.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: mark read %s: %v", errStore, id, err)
	}

	if cmd.SenderIdentity != "" && cmd.SenderIdentity != stored.Sender {
		log.Printf("[HUB] mark_read sender hint %q does not match stored sender %q for %s", cmd.SenderIdentity, stored.Sender, id)
	}

	out, err := types.NewEnvelope(types.EventMessageRead, types.ReadReceipt{
		MessageID:      id.String(),
		ReaderIdentity: reader.ID,
	})
	if err != nil {
		return err
	}

	h.route(&delivery{rooms: []string{stored.Sender}, payload: out})
	return nil
}
