package chat

import "time"

// Conversation aggregates one chat thread, updated as a side effect of
// message ingestion.
//
// Invariant: an inbound message always clears AssignedOperatorID and
// un-archives the conversation; an outbound message never changes assignment.
type Conversation struct {
	ID       string `json:"id" db:"id"`
	ChatKey  string `json:"chat_key" db:"chat_key"`
	Category string `json:"category" db:"category"`
	Kind     Kind   `json:"kind" db:"kind"`
	Name     string `json:"name,omitempty" db:"name"`

	LastMessagePreview string    `json:"last_message_preview" db:"last_message_preview"`
	LastMessageAt      time.Time `json:"last_message_at" db:"last_message_at"`
	UnreadCount        int       `json:"unread_count" db:"unread_count"`

	AssignedOperatorID *string `json:"assigned_operator_id,omitempty" db:"assigned_operator_id"`
	Archived           bool    `json:"archived" db:"archived"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Kind string

const (
	KindIndividual Kind = "individual"
	KindGroup      Kind = "group"
)

// Message is the canonical, provider-agnostic message row.
//
// ProviderMessageID carries a UNIQUE constraint; it is the idempotency key
// that makes redelivered webhooks harmless.
type Message struct {
	ID                string `json:"id" db:"id"`
	ConversationID    string `json:"conversation_id" db:"conversation_id"`
	Provider          string `json:"provider" db:"provider"`
	ProviderMessageID string `json:"provider_message_id" db:"provider_message_id"`

	Direction   Direction   `json:"direction" db:"direction"`
	SenderPhone string      `json:"sender_phone" db:"sender_phone"`
	SenderName  string      `json:"sender_name,omitempty" db:"sender_name"`
	Type        MessageType `json:"type" db:"type"`
	Body        string      `json:"body" db:"body"`

	MediaMimeType string   `json:"media_mime_type,omitempty" db:"media_mime_type"`
	MediaFilename string   `json:"media_filename,omitempty" db:"media_filename"`
	Mentions      []string `json:"mentions,omitempty" db:"mentions"`

	Edited bool           `json:"edited" db:"edited"`
	Status DeliveryStatus `json:"status" db:"status"`

	// Metadata is an opaque provider-specific JSON bag.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeAudio    MessageType = "audio"
	TypeVideo    MessageType = "video"
	TypeDocument MessageType = "document"
	TypeLocation MessageType = "location"
	TypeContact  MessageType = "contact"
	TypeReaction MessageType = "reaction"
	TypeSticker  MessageType = "sticker"
)

type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)
