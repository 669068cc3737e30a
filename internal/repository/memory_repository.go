package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"foodshare-chat/internal/models"

	"github.com/google/uuid"
)

// sentAtClock hands out server timestamps that never go backwards within one
// store, so sentAt order and append order agree.
type sentAtClock struct {
	now  func() time.Time
	last time.Time
}

func (c *sentAtClock) next() time.Time {
	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

// MemoryMessagesRepo keeps the log in process memory. It is used by tests
// and by development runs without a database.
type MemoryMessagesRepo struct {
	mu       sync.RWMutex
	messages []*models.Message
	byID     map[uuid.UUID]*models.Message
	clock    sentAtClock
}

func NewMemoryRepo() *MemoryMessagesRepo {
	return &MemoryMessagesRepo{
		byID:  make(map[uuid.UUID]*models.Message),
		clock: sentAtClock{now: time.Now},
	}
}

func (r *MemoryMessagesRepo) Append(_ context.Context, m *models.Message) (*models.Message, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *m
	stored.ID = id
	stored.Conversation = models.ConversationKey(m.Sender, m.Recipient)
	stored.SentAt = r.clock.next()
	stored.Read = false
	if m.Attachment != nil {
		a := *m.Attachment
		stored.Attachment = &a
	}

	r.messages = append(r.messages, &stored)
	r.byID[stored.ID] = &stored

	out := stored
	return &out, nil
}

func (r *MemoryMessagesRepo) QueryGlobal(ctx context.Context, search string) ([]*models.Message, error) {
	return r.fetch(models.GlobalRoom, search), nil
}

func (r *MemoryMessagesRepo) QueryConversation(ctx context.Context, userA, userB, search string) ([]*models.Message, error) {
	return r.fetch(models.ConversationKey(userA, userB), search), nil
}

func (r *MemoryMessagesRepo) fetch(conversation, search string) []*models.Message {
	needle := strings.ToLower(search)

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Message, 0)
	for _, m := range r.messages {
		if m.Conversation != conversation {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(m.Body), needle) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out
}

func (r *MemoryMessagesRepo) MarkRead(_ context.Context, id uuid.UUID) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byID[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	m.Read = true

	out := *m
	return &out, nil
}

func (r *MemoryMessagesRepo) Ping(context.Context) error { return nil }

func (r *MemoryMessagesRepo) Close() error { return nil }
