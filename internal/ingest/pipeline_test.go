package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"omnidesk/internal/calls"
	"omnidesk/internal/chat"
	"omnidesk/internal/events"
	"omnidesk/internal/wa"
)

type recordedBroadcast struct {
	Type    events.Type
	Payload any
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []recordedBroadcast
}

func (b *fakeBroadcaster) Broadcast(t events.Type, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedBroadcast{Type: t, Payload: payload})
}

func (b *fakeBroadcaster) types() []events.Type {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.Type, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

// mapDeduper is an in-process Deduper for tests.
type mapDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMapDeduper() *mapDeduper { return &mapDeduper{seen: make(map[string]bool)} }

func (d *mapDeduper) Seen(ctx context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[key]
}

func (d *mapDeduper) Mark(ctx context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = true
}

type pipelineFixture struct {
	chats    *chat.MemoryRepo
	calls    *calls.MemoryRepo
	hub      *fakeBroadcaster
	pipeline *Pipeline
}

func newPipelineFixture(dedupe Deduper) *pipelineFixture {
	f := &pipelineFixture{
		chats: chat.NewMemoryRepo(),
		calls: calls.NewMemoryRepo(),
		hub:   &fakeBroadcaster{},
	}
	f.pipeline = NewPipeline(f.chats, f.calls, f.hub, dedupe, nil)
	return f
}

func zapTextPayload(messageID, body string) []byte {
	return []byte(`{
		"type": "ReceivedCallback",
		"instanceId": "inst-1",
		"phone": "5511999",
		"messageId": "` + messageID + `",
		"senderName": "Carlos",
		"momment": 1700000000000,
		"text": {"message": "` + body + `"}
	}`)
}

func TestPipeline_NewMessageFlow(t *testing.T) {
	f := newPipelineFixture(nil)
	n := wa.NewZapNormalizer(nil)

	f.pipeline.Dispatch(context.Background(), n, zapTextPayload("Z1", "hello"))

	if f.chats.MessageCount() != 1 {
		t.Fatalf("expected 1 message, got %d", f.chats.MessageCount())
	}
	convs, _ := f.chats.ListConversations(context.Background(), "", 0)
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	c := convs[0]
	if c.UnreadCount != 1 || c.LastMessagePreview != "hello" {
		t.Fatalf("unexpected conversation state: %+v", c)
	}

	got := f.hub.types()
	want := []events.Type{events.TypeMessageCreated, events.TypeConversationUpdated}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected broadcasts %v", got)
	}
}

func TestPipeline_RedeliveryIsIdempotent(t *testing.T) {
	f := newPipelineFixture(nil)
	n := wa.NewZapNormalizer(nil)
	payload := zapTextPayload("Z1", "hello")

	f.pipeline.Dispatch(context.Background(), n, payload)
	f.pipeline.Dispatch(context.Background(), n, payload)

	if f.chats.MessageCount() != 1 {
		t.Fatalf("expected 1 message after redelivery, got %d", f.chats.MessageCount())
	}
	// Only the first delivery announces anything.
	if got := f.hub.types(); len(got) != 2 {
		t.Fatalf("expected 2 broadcasts total, got %v", got)
	}
	convs, _ := f.chats.ListConversations(context.Background(), "", 0)
	if convs[0].UnreadCount != 2 {
		// The store-level insert skip happens after the conversation upsert;
		// the dedupe marker exists to stop that double count early.
		t.Fatalf("expected unread bumped by each delivery without dedupe, got %d", convs[0].UnreadCount)
	}
}

func TestPipeline_DedupeShortCircuitsRedelivery(t *testing.T) {
	f := newPipelineFixture(newMapDeduper())
	n := wa.NewZapNormalizer(nil)
	payload := zapTextPayload("Z1", "hello")

	f.pipeline.Dispatch(context.Background(), n, payload)
	f.pipeline.Dispatch(context.Background(), n, payload)

	if f.chats.MessageCount() != 1 {
		t.Fatalf("expected 1 message, got %d", f.chats.MessageCount())
	}
	convs, _ := f.chats.ListConversations(context.Background(), "", 0)
	if convs[0].UnreadCount != 1 {
		t.Fatalf("expected dedupe to stop the second upsert, got unread %d", convs[0].UnreadCount)
	}
}

func TestPipeline_InboundClearsAssignmentAndUnarchives(t *testing.T) {
	f := newPipelineFixture(nil)
	n := wa.NewZapNormalizer(nil)
	ctx := context.Background()

	f.pipeline.Dispatch(ctx, n, zapTextPayload("Z1", "first"))
	convs, _ := f.chats.ListConversations(ctx, "", 0)
	if _, err := f.chats.AssignOperator(ctx, convs[0].ID, "op-7"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	f.pipeline.Dispatch(ctx, n, zapTextPayload("Z2", "second"))

	conv, _ := f.chats.GetConversation(ctx, convs[0].ID)
	if conv.AssignedOperatorID != nil {
		t.Fatalf("expected inbound message to clear assignment, got %v", *conv.AssignedOperatorID)
	}
	if conv.Archived {
		t.Fatalf("expected conversation unarchived")
	}
	if conv.UnreadCount != 2 {
		t.Fatalf("expected unread 2, got %d", conv.UnreadCount)
	}
}

func TestPipeline_OutboundKeepsAssignmentAndUnread(t *testing.T) {
	f := newPipelineFixture(nil)
	n := wa.NewZapNormalizer(nil)
	ctx := context.Background()

	f.pipeline.Dispatch(ctx, n, zapTextPayload("Z1", "first"))
	convs, _ := f.chats.ListConversations(ctx, "", 0)
	if _, err := f.chats.AssignOperator(ctx, convs[0].ID, "op-7"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	outbound := []byte(`{
		"type": "ReceivedCallback",
		"instanceId": "inst-1",
		"phone": "5511999",
		"messageId": "Z2",
		"fromMe": true,
		"momment": 1700000001000,
		"text": {"message": "our reply"}
	}`)
	f.pipeline.Dispatch(ctx, n, outbound)

	conv, _ := f.chats.GetConversation(ctx, convs[0].ID)
	if conv.AssignedOperatorID == nil || *conv.AssignedOperatorID != "op-7" {
		t.Fatalf("expected outbound message to keep assignment, got %v", conv.AssignedOperatorID)
	}
	if conv.UnreadCount != 1 {
		t.Fatalf("expected unread unchanged at 1, got %d", conv.UnreadCount)
	}
	if conv.LastMessagePreview != "our reply" {
		t.Fatalf("expected preview updated, got %q", conv.LastMessagePreview)
	}
}

func TestPipeline_EditUpdatesInPlace(t *testing.T) {
	f := newPipelineFixture(nil)
	n := wa.NewZapNormalizer(nil)
	ctx := context.Background()

	f.pipeline.Dispatch(ctx, n, zapTextPayload("Z1", "helo"))

	edit := []byte(`{
		"type": "ReceivedCallback",
		"instanceId": "inst-1",
		"phone": "5511999",
		"messageId": "Z1-edit",
		"momment": 1700000002000,
		"editedMessageId": "Z1",
		"text": {"message": "hello"}
	}`)
	f.pipeline.Dispatch(ctx, n, edit)

	if f.chats.MessageCount() != 1 {
		t.Fatalf("expected edit to not add a row, got %d", f.chats.MessageCount())
	}
	convs, _ := f.chats.ListConversations(ctx, "", 0)
	msgs, _ := f.chats.ListMessages(ctx, convs[0].ID, 0)
	if msgs[0].Body != "hello" || !msgs[0].Edited {
		t.Fatalf("expected edited body, got %+v", msgs[0])
	}
	if convs[0].LastMessagePreview != "hello" {
		t.Fatalf("expected preview refreshed by edit of latest message, got %q", convs[0].LastMessagePreview)
	}

	got := f.hub.types()
	want := []events.Type{
		events.TypeMessageCreated, events.TypeConversationUpdated,
		events.TypeMessageEdited, events.TypeConversationUpdated,
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected broadcasts %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("broadcast %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestPipeline_EditOfUnknownMessageIsDropped(t *testing.T) {
	f := newPipelineFixture(nil)
	n := wa.NewZapNormalizer(nil)

	edit := []byte(`{
		"type": "ReceivedCallback",
		"instanceId": "inst-1",
		"phone": "5511999",
		"messageId": "Z9-edit",
		"momment": 1700000002000,
		"editedMessageId": "never-seen",
		"text": {"message": "ghost edit"}
	}`)
	f.pipeline.Dispatch(context.Background(), n, edit)

	if f.chats.MessageCount() != 0 {
		t.Fatalf("expected no rows, got %d", f.chats.MessageCount())
	}
	if got := f.hub.types(); len(got) != 0 {
		t.Fatalf("expected no broadcasts, got %v", got)
	}
}

func TestPipeline_CallAttemptCreatesMissedRecord(t *testing.T) {
	f := newPipelineFixture(nil)
	n := wa.NewZapNormalizer(nil)
	ctx := context.Background()

	payload := []byte(`{
		"type": "CallReceived",
		"instanceId": "inst-1",
		"phone": "5511777",
		"senderName": "Paula",
		"callId": "CALL-9",
		"momment": 1700000004000
	}`)
	f.pipeline.Dispatch(ctx, n, payload)

	rec, ok := f.calls.Get("CALL-9")
	if !ok {
		t.Fatalf("expected call record")
	}
	if rec.Status != calls.StatusMissed || rec.Origin != calls.OriginWhatsAppVoiceCall {
		t.Fatalf("unexpected record: %+v", rec)
	}
	convs, _ := f.chats.ListConversations(ctx, "", 0)
	if len(convs) != 1 || convs[0].LastMessagePreview != "Missed voice call" {
		t.Fatalf("expected missed-call conversation preview, got %+v", convs)
	}

	got := f.hub.types()
	if len(got) != 1 || got[0] != events.TypeCallCreated {
		t.Fatalf("expected single call-created broadcast, got %v", got)
	}

	// Redelivery of the same call id adds nothing.
	f.pipeline.Dispatch(ctx, n, payload)
	if got := f.hub.types(); len(got) != 1 {
		t.Fatalf("expected no second broadcast, got %v", got)
	}
}

func TestPipeline_StatusUpdatesApplyAndBroadcast(t *testing.T) {
	f := newPipelineFixture(nil)
	n := wa.NewZapNormalizer(nil)
	ctx := context.Background()

	f.pipeline.Dispatch(ctx, n, zapTextPayload("Z1", "hello"))

	status := []byte(`{
		"type": "MessageStatusCallback",
		"status": "READ",
		"ids": ["Z1", "unknown-id"],
		"momment": 1700000005000
	}`)
	f.pipeline.Dispatch(ctx, n, status)

	convs, _ := f.chats.ListConversations(ctx, "", 0)
	msgs, _ := f.chats.ListMessages(ctx, convs[0].ID, 0)
	if msgs[0].Status != chat.StatusRead {
		t.Fatalf("expected read status, got %q", msgs[0].Status)
	}

	got := f.hub.types()
	// message-created, conversation-updated, then one message-status for the
	// known id only.
	if len(got) != 3 || got[2] != events.TypeMessageStatus {
		t.Fatalf("unexpected broadcasts %v", got)
	}
}

func TestPipeline_UnparseablePayloadIsDropped(t *testing.T) {
	f := newPipelineFixture(nil)
	n := wa.NewZapNormalizer(nil)

	f.pipeline.Dispatch(context.Background(), n, []byte(`{broken`))

	if f.chats.MessageCount() != 0 || len(f.hub.types()) != 0 {
		t.Fatalf("expected nothing persisted or broadcast")
	}
}

func TestPipeline_FailedInsertStaysRetryable(t *testing.T) {
	f := newPipelineFixture(newMapDeduper())
	n := wa.NewZapNormalizer(nil)
	ctx := context.Background()
	payload := zapTextPayload("Z1", "hello")

	f.chats.InsertErr = errors.New("db down")
	f.pipeline.Dispatch(ctx, n, payload)
	if f.chats.MessageCount() != 0 {
		t.Fatalf("expected nothing persisted while the store is down")
	}
	if got := f.hub.types(); len(got) != 0 {
		t.Fatalf("expected no broadcasts for a failed write, got %v", got)
	}

	// The store recovers and the provider redelivers; the dedupe marker must
	// not have been set by the failed attempt.
	f.chats.InsertErr = nil
	f.pipeline.Dispatch(ctx, n, payload)
	if f.chats.MessageCount() != 1 {
		t.Fatalf("expected redelivery to persist after recovery, got %d rows", f.chats.MessageCount())
	}
	got := f.hub.types()
	if len(got) != 2 || got[0] != events.TypeMessageCreated {
		t.Fatalf("expected redelivery to announce the message, got %v", got)
	}

	// A third delivery is now a true duplicate and is filtered.
	f.pipeline.Dispatch(ctx, n, payload)
	if f.chats.MessageCount() != 1 || len(f.hub.types()) != 2 {
		t.Fatalf("expected duplicate to be filtered after successful write")
	}
}

func TestMapDeduperSanity(t *testing.T) {
	d := newMapDeduper()
	if d.Seen(context.Background(), "k") {
		t.Fatalf("expected unmarked key to be unseen")
	}
	d.Mark(context.Background(), "k")
	if !d.Seen(context.Background(), "k") {
		t.Fatalf("expected marked key to be seen")
	}
}
