package ingest

import (
	"context"
	"log/slog"

	"omnidesk/internal/calls"
	"omnidesk/internal/chat"
	"omnidesk/internal/events"
	"omnidesk/internal/wa"

	"github.com/google/uuid"
)

// Deduper is a best-effort duplicate filter in front of the store. The
// message uniqueness constraint stays the authority; a deduper that errors or
// is absent just lets every payload through.
//
// Marking is decoupled from the lookup so a key is only recorded once the
// store accepted the write: a failed insert must stay retryable on
// redelivery.
type Deduper interface {
	// Seen reports whether the key was marked by a previous successful write.
	Seen(ctx context.Context, key string) bool
	// Mark records the key. Call it only after the store accepted the write.
	Mark(ctx context.Context, key string)
}

// Pipeline orchestrates one webhook delivery end-to-end after the transport
// has already acknowledged it: normalize, persist idempotently, broadcast.
//
// Persistence failures are logged and swallowed; nothing here surfaces an
// error to the upstream caller.
type Pipeline struct {
	chats  chat.Repository
	calls  calls.Repository
	hub    events.Broadcaster
	dedupe Deduper
	log    *slog.Logger
}

func NewPipeline(chats chat.Repository, callRepo calls.Repository, hub events.Broadcaster, dedupe Deduper, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{chats: chats, calls: callRepo, hub: hub, dedupe: dedupe, log: log}
}

// Dispatch classifies the payload and runs the matching flow. A payload that
// parses as none of message, call attempt, or status batch is dropped.
func (p *Pipeline) Dispatch(ctx context.Context, n wa.Normalizer, payload []byte) {
	pm, err := n.ParseMessage(payload)
	if err != nil {
		p.log.Warn("message parse failed", "provider", n.Provider(), "err", err)
		return
	}
	if pm != nil {
		p.handleMessage(ctx, pm)
		return
	}

	ca, err := n.ParseCallAttempt(payload)
	if err != nil {
		p.log.Warn("call attempt parse failed", "provider", n.Provider(), "err", err)
		return
	}
	if ca != nil {
		p.handleCallAttempt(ctx, ca)
		return
	}

	updates, err := n.ParseStatusUpdate(payload)
	if err != nil {
		p.log.Warn("status parse failed", "provider", n.Provider(), "err", err)
		return
	}
	p.handleStatusUpdates(ctx, updates)
}

func (p *Pipeline) handleMessage(ctx context.Context, pm *chat.ParsedMessage) {
	if pm.EditedMessageID != "" {
		p.handleEdit(ctx, pm)
		return
	}

	dedupeKey := "wa:msg:" + pm.Provider + ":" + pm.ProviderMessageID
	if p.dedupe != nil && p.dedupe.Seen(ctx, dedupeKey) {
		return
	}

	conv, err := p.chats.UpsertConversation(ctx, chat.ConversationChange{
		ChatKey:  pm.ChatKey,
		Category: pm.Category,
		Kind:     pm.Kind,
		Name:     pm.SenderName,
		Preview:  pm.Body,
		At:       pm.Timestamp,
		Inbound:  pm.Direction == chat.DirectionInbound,
	})
	if err != nil {
		p.log.Error("conversation upsert failed", "chat_key", pm.ChatKey, "err", err)
		return
	}

	msg, inserted, err := p.chats.InsertMessage(ctx, chat.Message{
		ConversationID:    conv.ID,
		Provider:          pm.Provider,
		ProviderMessageID: pm.ProviderMessageID,
		Direction:         pm.Direction,
		SenderPhone:       pm.SenderPhone,
		SenderName:        pm.SenderName,
		Type:              pm.Type,
		Body:              pm.Body,
		MediaMimeType:     pm.MediaMimeType,
		MediaFilename:     pm.MediaFilename,
		Mentions:          pm.Mentions,
		Metadata:          pm.Metadata,
	})
	if err != nil {
		p.log.Error("message insert failed", "provider_message_id", pm.ProviderMessageID, "err", err)
		return
	}
	// The store has the row now (fresh or from an earlier delivery); only at
	// this point may the marker suppress future redeliveries.
	if p.dedupe != nil {
		p.dedupe.Mark(ctx, dedupeKey)
	}
	if !inserted {
		// Redelivered webhook: already recorded, nothing to announce.
		return
	}

	p.hub.Broadcast(events.TypeMessageCreated, msg)
	p.hub.Broadcast(events.TypeConversationUpdated, conv)
}

func (p *Pipeline) handleEdit(ctx context.Context, pm *chat.ParsedMessage) {
	msg, found, err := p.chats.UpdateMessageByProviderID(ctx, pm.Provider, pm.EditedMessageID, pm.Body)
	if err != nil {
		p.log.Error("message edit failed", "provider_message_id", pm.EditedMessageID, "err", err)
		return
	}
	if !found {
		// Edit of a message this system never saw.
		p.log.Debug("edit for untracked message dropped", "provider_message_id", pm.EditedMessageID)
		return
	}

	p.hub.Broadcast(events.TypeMessageEdited, msg)

	conv, err := p.chats.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		p.log.Error("conversation lookup failed", "conversation_id", msg.ConversationID, "err", err)
		return
	}
	p.hub.Broadcast(events.TypeConversationUpdated, conv)
}

func (p *Pipeline) handleCallAttempt(ctx context.Context, ca *chat.ParsedCallAttempt) {
	if _, err := p.chats.UpsertConversation(ctx, chat.ConversationChange{
		ChatKey:  ca.ChatKey,
		Category: ca.Category,
		Kind:     chat.KindIndividual,
		Name:     ca.CallerName,
		Preview:  "Missed voice call",
		At:       ca.Timestamp,
		Inbound:  true,
	}); err != nil {
		p.log.Error("conversation upsert failed", "chat_key", ca.ChatKey, "err", err)
		return
	}

	rec, err := p.calls.Insert(ctx, calls.CallRecord{
		ID:            uuid.NewString(),
		CorrelationID: ca.ProviderCallID,
		CallerNumber:  ca.CallerPhone,
		CallerName:    ca.CallerName,
		Origin:        calls.OriginWhatsAppVoiceCall,
		Direction:     calls.DirectionInbound,
		Status:        calls.StatusMissed,
		StartedAt:     ca.Timestamp,
	})
	if err != nil {
		if err == calls.ErrDuplicateCorrelation {
			return
		}
		p.log.Error("call attempt insert failed", "provider_call_id", ca.ProviderCallID, "err", err)
		return
	}

	p.hub.Broadcast(events.TypeCallCreated, rec)
}

func (p *Pipeline) handleStatusUpdates(ctx context.Context, updates []chat.ParsedStatusUpdate) {
	for _, u := range updates {
		applied, err := p.chats.UpdateMessageStatus(ctx, u.Provider, u.ProviderMessageID, u.Status)
		if err != nil {
			p.log.Error("status update failed", "provider_message_id", u.ProviderMessageID, "err", err)
			continue
		}
		if !applied {
			// Receipt for a message this system never saw.
			continue
		}
		p.hub.Broadcast(events.TypeMessageStatus, map[string]string{
			"provider_message_id": u.ProviderMessageID,
			"status":              string(u.Status),
		})
	}
}
