package repository

import (
	"context"
	"errors"
	"fmt"
	"log"

	"foodshare-chat/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepo is the durable chat log. Query results are ordered by sentAt,
// then id. search is a case-insensitive substring filter on the body.
type MessageRepo interface {
	Append(ctx context.Context, m *models.Message) (*models.Message, error)
	QueryGlobal(ctx context.Context, search string) ([]*models.Message, error)
	QueryConversation(ctx context.Context, userA, userB, search string) ([]*models.Message, error)
	MarkRead(ctx context.Context, id uuid.UUID) (*models.Message, error)
	Ping(ctx context.Context) error
	Close() error
}

type PostgresMessagesRepo struct {
	pool *pgxpool.Pool
}

func NewMessagesRepo(pool *pgxpool.Pool) *PostgresMessagesRepo {
	return &PostgresMessagesRepo{
		pool: pool,
	}
}

const messageColumns = `id, conversation, sender, sender_name, recipient, role, body, kind, attachment_url, attachment_name, sent_at, read`

func (r *PostgresMessagesRepo) Append(ctx context.Context, m *models.Message) (*models.Message, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	out := *m
	out.ID = id
	out.Conversation = models.ConversationKey(m.Sender, m.Recipient)
	out.Read = false

	var url, name *string
	if m.Attachment != nil {
		url, name = &m.Attachment.URL, &m.Attachment.OriginalName
	}

	const query = `
        INSERT INTO chat_messages (id, conversation, sender, sender_name, recipient, role, body, kind, attachment_url, attachment_name)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING sent_at`

	err = r.pool.QueryRow(ctx, query,
		out.ID,
		out.Conversation,
		out.Sender,
		out.SenderName,
		out.Recipient,
		string(out.Role),
		out.Body,
		string(out.Kind),
		url,
		name,
	).Scan(&out.SentAt)

	if err != nil {
		log.Printf("[REPO ERROR] Failed to save message from %s to %s: %v", m.Sender, m.Recipient, err)
		return nil, fmt.Errorf("insert message: %w", err)
	}

	return &out, nil
}

func (r *PostgresMessagesRepo) QueryGlobal(ctx context.Context, search string) ([]*models.Message, error) {
	return r.fetch(ctx, models.GlobalRoom, search)
}

func (r *PostgresMessagesRepo) QueryConversation(ctx context.Context, userA, userB, search string) ([]*models.Message, error) {
	return r.fetch(ctx, models.ConversationKey(userA, userB), search)
}

func (r *PostgresMessagesRepo) fetch(ctx context.Context, conversation, search string) ([]*models.Message, error) {
	query := `
        SELECT ` + messageColumns + `
        FROM chat_messages
        WHERE conversation = $1
          AND ($2 = '' OR strpos(lower(body), lower($2)) > 0)
        ORDER BY sent_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, conversation, search)
	if err != nil {
		log.Printf("[REPO ERROR] Fetch failed for conversation %q: %v", conversation, err)
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			log.Printf("[REPO ERROR] Scan failed: %v", err)
			return nil, err
		}
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

func (r *PostgresMessagesRepo) MarkRead(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	query := `
		UPDATE chat_messages
		SET read = true
		WHERE id = $1
		RETURNING ` + messageColumns

	m, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		log.Printf("[REPO ERROR] Failed to mark message %s read: %v", id, err)
		return nil, fmt.Errorf("database update failed: %w", err)
	}

	return m, nil
}

func (r *PostgresMessagesRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresMessagesRepo) Close() error {
	r.pool.Close()
	return nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	m := &models.Message{}
	var role, kind string
	var url, name *string

	err := row.Scan(
		&m.ID,
		&m.Conversation,
		&m.Sender,
		&m.SenderName,
		&m.Recipient,
		&role,
		&m.Body,
		&kind,
		&url,
		&name,
		&m.SentAt,
		&m.Read,
	)
	if err != nil {
		return nil, err
	}

	m.Role = models.Role(role)
	m.Kind = models.MessageKind(kind)
	if url != nil {
		m.Attachment = &models.Attachment{URL: *url}
		if name != nil {
			m.Attachment.OriginalName = *name
		}
	}

	return m, nil
}
