package chat

import "time"

// Parsed shapes are what the provider normalizers produce. They carry only
// provider-agnostic fields; the ingestion pipeline turns them into
// Conversation and Message rows.

type ParsedMessage struct {
	ChatKey  string
	Category string
	Kind     Kind

	Provider          string
	ProviderMessageID string

	// EditedMessageID is set when the payload represents an edit of a prior
	// message rather than new content. It references the provider message id
	// of the original.
	EditedMessageID string

	Direction   Direction
	SenderPhone string
	SenderName  string

	Type MessageType
	Body string

	MediaMimeType string
	MediaFilename string
	Mentions      []string

	Metadata  string
	Timestamp time.Time
}

type ParsedCallAttempt struct {
	ChatKey  string
	Category string

	Provider       string
	ProviderCallID string

	CallerPhone string
	CallerName  string

	Timestamp time.Time
}

type ParsedStatusUpdate struct {
	Provider          string
	ProviderMessageID string
	Status            DeliveryStatus
	Timestamp         time.Time
}
