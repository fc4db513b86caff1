package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu            sync.Mutex
	conversations map[string]*Conversation // keyed by chat_key + "|" + category
	messages      []*Message

	// InsertErr, when set, makes InsertMessage fail. Used to exercise the
	// pipeline's behavior when the store rejects a write.
	InsertErr error
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{conversations: make(map[string]*Conversation)}
}

func convKey(chatKey, category string) string { return chatKey + "|" + category }

func (r *MemoryRepo) UpsertConversation(ctx context.Context, change ConversationChange) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	at := change.At
	if at.IsZero() {
		at = now
	}

	key := convKey(change.ChatKey, change.Category)
	c, ok := r.conversations[key]
	if !ok {
		c = &Conversation{
			ID:        uuid.NewString(),
			ChatKey:   change.ChatKey,
			Category:  change.Category,
			CreatedAt: now,
		}
		r.conversations[key] = c
	}
	c.Kind = change.Kind
	if change.Name != "" {
		c.Name = change.Name
	}
	c.LastMessagePreview = change.Preview
	c.LastMessageAt = at
	if change.Inbound {
		c.UnreadCount++
		c.AssignedOperatorID = nil
		c.Archived = false
	}
	c.UpdatedAt = now
	return *c, nil
}

func (r *MemoryRepo) GetConversation(ctx context.Context, id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conversations {
		if c.ID == id {
			return *c, nil
		}
	}
	return Conversation{}, ErrNotFound
}

func (r *MemoryRepo) ListConversations(ctx context.Context, category string, limit int) ([]Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Conversation
	for _, c := range r.conversations {
		if c.Archived {
			continue
		}
		if category != "" && c.Category != category {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) MarkConversationRead(ctx context.Context, id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conversations {
		if c.ID == id {
			c.UnreadCount = 0
			c.UpdatedAt = time.Now().UTC()
			return *c, nil
		}
	}
	return Conversation{}, ErrNotFound
}

func (r *MemoryRepo) AssignOperator(ctx context.Context, id, operatorID string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conversations {
		if c.ID == id {
			if operatorID == "" {
				c.AssignedOperatorID = nil
			} else {
				op := operatorID
				c.AssignedOperatorID = &op
			}
			c.UpdatedAt = time.Now().UTC()
			return *c, nil
		}
	}
	return Conversation{}, ErrNotFound
}

func (r *MemoryRepo) InsertMessage(ctx context.Context, m Message) (Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.InsertErr != nil {
		return Message{}, false, r.InsertErr
	}
	for _, existing := range r.messages {
		if existing.ProviderMessageID == m.ProviderMessageID {
			return Message{}, false, nil
		}
	}
	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = StatusSent
	}
	m.CreatedAt = now
	m.UpdatedAt = now
	cp := m
	r.messages = append(r.messages, &cp)
	return m, true, nil
}

func (r *MemoryRepo) UpdateMessageByProviderID(ctx context.Context, provider, providerMessageID, body string) (Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.Provider == provider && m.ProviderMessageID == providerMessageID {
			m.Body = body
			m.Edited = true
			m.UpdatedAt = time.Now().UTC()

			newest := true
			for _, other := range r.messages {
				if other.ConversationID == m.ConversationID && other.CreatedAt.After(m.CreatedAt) {
					newest = false
					break
				}
			}
			if newest {
				for _, c := range r.conversations {
					if c.ID == m.ConversationID {
						c.LastMessagePreview = body
						c.UpdatedAt = m.UpdatedAt
					}
				}
			}
			return *m, true, nil
		}
	}
	return Message{}, false, nil
}

func (r *MemoryRepo) UpdateMessageStatus(ctx context.Context, provider, providerMessageID string, status DeliveryStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.Provider == provider && m.ProviderMessageID == providerMessageID {
			m.Status = status
			m.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepo) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MessageCount reports the number of stored messages, for test assertions.
func (r *MemoryRepo) MessageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}
