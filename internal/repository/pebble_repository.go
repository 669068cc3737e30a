package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"foodshare-chat/internal/models"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

// Key layout:
//
//	m/<id>                                  -> JSON message
//	c/<conversation>\x00<sentAt nanos BE><id> -> id
//	meta/lastSentAt                          -> newest sentAt nanos BE
//
// The conversation index sorts by sentAt within a conversation, so a bounded
// iterator yields history in order without a sort step.
const (
	messagePrefix = "m/"
	convPrefix    = "c/"
)

var (
	lastSentAtKey = []byte("meta/lastSentAt")

	errPebbleClosed = errors.New("pebble store closed")
)

// PebbleMessagesRepo guards db with mu: writers and Close take the write
// lock, reads share it.
type PebbleMessagesRepo struct {
	db    *pebble.DB
	mu    sync.RWMutex
	clock sentAtClock
}

// OpenPebbleRepo opens (or creates) a Pebble database at path. opts may be nil.
func OpenPebbleRepo(path string, opts *pebble.Options) (*PebbleMessagesRepo, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to open pebble store at %s: %v", path, err)
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	log.Printf("[REPO] Pebble store opened at %s", path)

	r := &PebbleMessagesRepo{db: db, clock: sentAtClock{now: time.Now}}
	last, err := r.lastSentAt()
	if err != nil {
		db.Close()
		return nil, err
	}
	r.clock.last = last
	return r, nil
}

func messageKey(id uuid.UUID) []byte {
	return append([]byte(messagePrefix), id[:]...)
}

func conversationBounds(conversation string) (lower, upper []byte) {
	lower = []byte(convPrefix + conversation + "\x00")
	upper = []byte(convPrefix + conversation + "\x01")
	return lower, upper
}

func conversationKey(conversation string, sentAt time.Time, id uuid.UUID) []byte {
	lower, _ := conversationBounds(conversation)
	key := make([]byte, 0, len(lower)+8+16)
	key = append(key, lower...)
	key = binary.BigEndian.AppendUint64(key, uint64(sentAt.UnixNano()))
	return append(key, id[:]...)
}

func (r *PebbleMessagesRepo) Append(_ context.Context, m *models.Message) (*models.Message, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil, errPebbleClosed
	}

	out := *m
	out.ID = id
	out.Conversation = models.ConversationKey(m.Sender, m.Recipient)
	out.SentAt = r.clock.next()
	out.Read = false

	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	b := r.db.NewBatch()
	defer b.Close()

	if err := b.Set(messageKey(out.ID), data, nil); err != nil {
		return nil, err
	}
	if err := b.Set(conversationKey(out.Conversation, out.SentAt, out.ID), []byte(out.ID.String()), nil); err != nil {
		return nil, err
	}
	if err := b.Set(lastSentAtKey, binary.BigEndian.AppendUint64(nil, uint64(out.SentAt.UnixNano())), nil); err != nil {
		return nil, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		log.Printf("[REPO ERROR] Failed to save message from %s to %s: %v", m.Sender, m.Recipient, err)
		return nil, fmt.Errorf("commit message: %w", err)
	}

	return &out, nil
}

func (r *PebbleMessagesRepo) QueryGlobal(_ context.Context, search string) ([]*models.Message, error) {
	return r.fetch(models.GlobalRoom, search)
}

func (r *PebbleMessagesRepo) QueryConversation(_ context.Context, userA, userB, search string) ([]*models.Message, error) {
	return r.fetch(models.ConversationKey(userA, userB), search)
}

func (r *PebbleMessagesRepo) fetch(conversation, search string) ([]*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.db == nil {
		return nil, errPebbleClosed
	}

	lower, upper := conversationBounds(conversation)
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("open iterator: %w", err)
	}
	defer iter.Close()

	needle := strings.ToLower(search)
	messages := make([]*models.Message, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		id, err := uuid.ParseBytes(iter.Value())
		if err != nil {
			log.Printf("[REPO ERROR] Corrupt index entry %q: %v", iter.Key(), err)
			continue
		}
		m, err := r.get(id)
		if err != nil {
			return nil, err
		}
		if needle != "" && !strings.Contains(strings.ToLower(m.Body), needle) {
			continue
		}
		messages = append(messages, m)
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func (r *PebbleMessagesRepo) get(id uuid.UUID) (*models.Message, error) {
	val, closer, err := r.db.Get(messageKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	defer closer.Close()

	m := &models.Message{}
	if err := json.Unmarshal(val, m); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	return m, nil
}

func (r *PebbleMessagesRepo) MarkRead(_ context.Context, id uuid.UUID) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil, errPebbleClosed
	}

	m, err := r.get(id)
	if err != nil {
		return nil, err
	}
	if m.Read {
		return m, nil
	}

	m.Read = true
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	if err := r.db.Set(messageKey(id), data, pebble.Sync); err != nil {
		log.Printf("[REPO ERROR] Failed to mark message %s read: %v", id, err)
		return nil, fmt.Errorf("update message: %w", err)
	}
	return m, nil
}

// lastSentAt reads the newest stored timestamp so a reopened store keeps
// handing out increasing sentAt values. An empty store yields the zero time.
func (r *PebbleMessagesRepo) lastSentAt() (time.Time, error) {
	val, closer, err := r.db.Get(lastSentAtKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read last sentAt: %w", err)
	}
	defer closer.Close()

	if len(val) != 8 {
		return time.Time{}, fmt.Errorf("read last sentAt: bad length %d", len(val))
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(val))).UTC(), nil
}

func (r *PebbleMessagesRepo) Ping(context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.db == nil {
		return errPebbleClosed
	}
	return nil
}

func (r *PebbleMessagesRepo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}
