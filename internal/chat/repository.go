package chat

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"omnidesk/pkg/utils"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("chat: not found")

// ConversationChange is the input to UpsertConversation. Inbound drives the
// side effects that only customer-initiated contact triggers: unread bump,
// assignment clearing, un-archiving.
type ConversationChange struct {
	ChatKey  string
	Category string
	Kind     Kind
	Name     string

	Preview string
	At      time.Time
	Inbound bool
}

// Repository is the persistence contract for conversations and messages.
//
// Required store primitives (not optional conveniences):
//   - atomic insert-or-ignore on the provider_message_id uniqueness constraint
//   - atomic insert-or-update on the (chat_key, category) composite key
type Repository interface {
	UpsertConversation(ctx context.Context, change ConversationChange) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	ListConversations(ctx context.Context, category string, limit int) ([]Conversation, error)
	MarkConversationRead(ctx context.Context, id string) (Conversation, error)
	AssignOperator(ctx context.Context, id, operatorID string) (Conversation, error)

	// InsertMessage reports inserted=false when the provider message id was
	// already recorded. That outcome is not an error.
	InsertMessage(ctx context.Context, m Message) (Message, bool, error)
	// UpdateMessageByProviderID applies an edit. found=false means the edit
	// referenced an untracked message and nothing was written.
	UpdateMessageByProviderID(ctx context.Context, provider, providerMessageID, body string) (Message, bool, error)
	UpdateMessageStatus(ctx context.Context, provider, providerMessageID string, status DeliveryStatus) (bool, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
}

// PostgresRepo assumes the following tables:
//   - conversations, UNIQUE (chat_key, category)
//   - messages, UNIQUE (provider_message_id)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) UpsertConversation(ctx context.Context, change ConversationChange) (Conversation, error) {
	now := time.Now().UTC()
	at := change.At
	if at.IsZero() {
		at = now
	}
	unread := 0
	if change.Inbound {
		unread = 1
	}

	const q = `
INSERT INTO conversations (
  id, chat_key, category, kind, name, last_message_preview, last_message_at,
  unread_count, assigned_operator_id, archived, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULL,FALSE,$9,$9)
ON CONFLICT (chat_key, category) DO UPDATE SET
  kind = EXCLUDED.kind,
  name = COALESCE(NULLIF(EXCLUDED.name, ''), conversations.name),
  last_message_preview = EXCLUDED.last_message_preview,
  last_message_at = EXCLUDED.last_message_at,
  unread_count = conversations.unread_count + EXCLUDED.unread_count,
  assigned_operator_id = CASE WHEN $10 THEN NULL ELSE conversations.assigned_operator_id END,
  archived = CASE WHEN $10 THEN FALSE ELSE conversations.archived END,
  updated_at = EXCLUDED.updated_at
RETURNING id, chat_key, category, kind, name, last_message_preview, last_message_at,
          unread_count, assigned_operator_id, archived, created_at, updated_at
`
	return r.scanConversation(r.db.QueryRowContext(ctx, q,
		uuid.NewString(),
		change.ChatKey,
		change.Category,
		change.Kind,
		change.Name,
		change.Preview,
		at,
		unread,
		now,
		change.Inbound,
	))
}

func (r *PostgresRepo) GetConversation(ctx context.Context, id string) (Conversation, error) {
	const q = `
SELECT id, chat_key, category, kind, name, last_message_preview, last_message_at,
       unread_count, assigned_operator_id, archived, created_at, updated_at
FROM conversations
WHERE id = $1
`
	return r.scanConversation(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) ListConversations(ctx context.Context, category string, limit int) ([]Conversation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := `
SELECT id, chat_key, category, kind, name, last_message_preview, last_message_at,
       unread_count, assigned_operator_id, archived, created_at, updated_at
FROM conversations
WHERE archived = FALSE
`
	args := []any{}
	if category != "" {
		q += " AND category = $1 ORDER BY last_message_at DESC LIMIT $2"
		args = append(args, category, limit)
	} else {
		q += " ORDER BY last_message_at DESC LIMIT $1"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		conv, err := scanConversationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) MarkConversationRead(ctx context.Context, id string) (Conversation, error) {
	const q = `
UPDATE conversations
SET unread_count = 0, updated_at = $2
WHERE id = $1
RETURNING id, chat_key, category, kind, name, last_message_preview, last_message_at,
          unread_count, assigned_operator_id, archived, created_at, updated_at
`
	return r.scanConversation(r.db.QueryRowContext(ctx, q, id, time.Now().UTC()))
}

func (r *PostgresRepo) AssignOperator(ctx context.Context, id, operatorID string) (Conversation, error) {
	const q = `
UPDATE conversations
SET assigned_operator_id = NULLIF($2, ''), updated_at = $3
WHERE id = $1
RETURNING id, chat_key, category, kind, name, last_message_preview, last_message_at,
          unread_count, assigned_operator_id, archived, created_at, updated_at
`
	return r.scanConversation(r.db.QueryRowContext(ctx, q, id, operatorID, time.Now().UTC()))
}

func (r *PostgresRepo) InsertMessage(ctx context.Context, m Message) (Message, bool, error) {
	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = StatusSent
	}
	m.CreatedAt = now
	m.UpdatedAt = now

	const q = `
INSERT INTO messages (
  id, conversation_id, provider, provider_message_id, direction, sender_phone,
  sender_name, type, body, media_mime_type, media_filename, mentions, edited,
  status, metadata, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (provider_message_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		m.ID,
		m.ConversationID,
		m.Provider,
		m.ProviderMessageID,
		m.Direction,
		m.SenderPhone,
		m.SenderName,
		m.Type,
		m.Body,
		m.MediaMimeType,
		m.MediaFilename,
		strings.Join(m.Mentions, ","),
		m.Edited,
		m.Status,
		m.Metadata,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return Message{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Message{}, false, err
	}
	if n == 0 {
		return Message{}, false, nil
	}
	return m, true, nil
}

// UpdateMessageByProviderID applies the edit and, when the edited message is
// still the newest in its conversation, refreshes the conversation preview in
// the same transaction so the list view never shows the stale body.
func (r *PostgresRepo) UpdateMessageByProviderID(ctx context.Context, provider, providerMessageID, body string) (Message, bool, error) {
	const updateMsg = `
UPDATE messages
SET body = $3, edited = TRUE, updated_at = $4
WHERE provider = $1 AND provider_message_id = $2
RETURNING id, conversation_id, provider, provider_message_id, direction, sender_phone,
          sender_name, type, body, media_mime_type, media_filename, mentions, edited,
          status, metadata, created_at, updated_at
`
	const refreshPreview = `
UPDATE conversations c
SET last_message_preview = $2, updated_at = $3
WHERE c.id = $1
  AND NOT EXISTS (
    SELECT 1 FROM messages m
    WHERE m.conversation_id = c.id AND m.created_at > $4
  )
`

	var m Message
	found := false
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()
		var err error
		m, err = scanMessage(tx.QueryRowContext(ctx, updateMsg, provider, providerMessageID, body, now))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		found = true
		_, err = tx.ExecContext(ctx, refreshPreview, m.ConversationID, body, now, m.CreatedAt)
		return err
	})
	if err != nil {
		return Message{}, false, err
	}
	if !found {
		return Message{}, false, nil
	}
	return m, true, nil
}

func (r *PostgresRepo) UpdateMessageStatus(ctx context.Context, provider, providerMessageID string, status DeliveryStatus) (bool, error) {
	const q = `
UPDATE messages
SET status = $3, updated_at = $4
WHERE provider = $1 AND provider_message_id = $2
`
	res, err := r.db.ExecContext(ctx, q, provider, providerMessageID, status, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepo) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `
SELECT id, conversation_id, provider, provider_message_id, direction, sender_phone,
       sender_name, type, body, media_mime_type, media_filename, mentions, edited,
       status, metadata, created_at, updated_at
FROM messages
WHERE conversation_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepo) scanConversation(row rowScanner) (Conversation, error) {
	return scanConversationRow(row)
}

func scanConversationRow(row rowScanner) (Conversation, error) {
	var c Conversation
	var assigned sql.NullString
	if err := row.Scan(
		&c.ID,
		&c.ChatKey,
		&c.Category,
		&c.Kind,
		&c.Name,
		&c.LastMessagePreview,
		&c.LastMessageAt,
		&c.UnreadCount,
		&assigned,
		&c.Archived,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	if assigned.Valid {
		c.AssignedOperatorID = &assigned.String
	}
	return c, nil
}

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	var mentions string
	if err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.Provider,
		&m.ProviderMessageID,
		&m.Direction,
		&m.SenderPhone,
		&m.SenderName,
		&m.Type,
		&m.Body,
		&m.MediaMimeType,
		&m.MediaFilename,
		&mentions,
		&m.Edited,
		&m.Status,
		&m.Metadata,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, err
	}
	if mentions != "" {
		m.Mentions = strings.Split(mentions, ",")
	}
	return m, nil
}
