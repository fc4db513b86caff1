package wa

import (
	"testing"
	"time"

	"omnidesk/internal/chat"
)

func cloudTestNormalizer() *CloudNormalizer {
	return NewCloudNormalizer(AccountTable{"acct-1": "sales"})
}

func TestCloudParseMessage_Text(t *testing.T) {
	payload := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "acct-1",
			"changes": [{
				"field": "messages",
				"value": {
					"contacts": [{"profile": {"name": "Maria"}, "wa_id": "5511999"}],
					"messages": [{
						"from": "5511999",
						"id": "wamid.123",
						"timestamp": "1700000000",
						"type": "text",
						"text": {"body": "hello there"}
					}]
				}
			}]
		}]
	}`)

	pm, err := cloudTestNormalizer().ParseMessage(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pm == nil {
		t.Fatalf("expected a parsed message")
	}
	if pm.Provider != "cloud" || pm.ProviderMessageID != "wamid.123" {
		t.Fatalf("unexpected identity: %q %q", pm.Provider, pm.ProviderMessageID)
	}
	if pm.Type != chat.TypeText || pm.Body != "hello there" {
		t.Fatalf("unexpected content: %q %q", pm.Type, pm.Body)
	}
	if pm.SenderName != "Maria" || pm.Category != "sales" {
		t.Fatalf("unexpected sender/category: %q %q", pm.SenderName, pm.Category)
	}
	if pm.Kind != chat.KindIndividual {
		t.Fatalf("expected individual chat, got %q", pm.Kind)
	}
	if !pm.Timestamp.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Fatalf("unexpected timestamp %v", pm.Timestamp)
	}
	if pm.EditedMessageID != "" {
		t.Fatalf("expected no edit marker")
	}
}

func TestCloudParseMessage_MediaCaption(t *testing.T) {
	payload := []byte(`{
		"entry": [{
			"id": "acct-2",
			"changes": [{
				"value": {
					"messages": [{
						"from": "5511888",
						"id": "wamid.img",
						"timestamp": "1700000100",
						"type": "image",
						"image": {"id": "m1", "mime_type": "image/jpeg", "caption": "the roof"}
					}]
				}
			}]
		}]
	}`)

	pm, err := cloudTestNormalizer().ParseMessage(payload)
	if err != nil || pm == nil {
		t.Fatalf("expected parsed message, got %v, %v", pm, err)
	}
	if pm.Type != chat.TypeImage || pm.Body != "the roof" || pm.MediaMimeType != "image/jpeg" {
		t.Fatalf("unexpected media fields: %+v", pm)
	}
	// Unknown account falls back to the default category.
	if pm.Category != "general" {
		t.Fatalf("expected default category, got %q", pm.Category)
	}
}

func TestCloudParseMessage_Location(t *testing.T) {
	payload := []byte(`{
		"entry": [{
			"id": "acct-1",
			"changes": [{
				"value": {
					"messages": [{
						"from": "5511888",
						"id": "wamid.loc",
						"timestamp": "1700000100",
						"type": "location",
						"location": {"latitude": -23.55, "longitude": -46.63, "name": "Office"}
					}]
				}
			}]
		}]
	}`)

	pm, err := cloudTestNormalizer().ParseMessage(payload)
	if err != nil || pm == nil {
		t.Fatalf("expected parsed message, got %v, %v", pm, err)
	}
	if pm.Type != chat.TypeLocation || pm.Body != "-23.55,-46.63 - Office" {
		t.Fatalf("unexpected location preview %q", pm.Body)
	}
}

func TestCloudParseMessage_Contacts(t *testing.T) {
	payload := []byte(`{
		"entry": [{
			"id": "acct-1",
			"changes": [{
				"value": {
					"messages": [{
						"from": "5511888",
						"id": "wamid.ct",
						"timestamp": "1700000100",
						"type": "contacts",
						"contacts": [
							{"name": {"formatted_name": "Ana"}},
							{"name": {"formatted_name": "Bruno"}}
						]
					}]
				}
			}]
		}]
	}`)

	pm, err := cloudTestNormalizer().ParseMessage(payload)
	if err != nil || pm == nil {
		t.Fatalf("expected parsed message, got %v, %v", pm, err)
	}
	if pm.Type != chat.TypeContact || pm.Body != "Ana, Bruno" {
		t.Fatalf("unexpected contacts preview %q", pm.Body)
	}
}

func TestCloudParseMessage_EditMarker(t *testing.T) {
	payload := []byte(`{
		"entry": [{
			"id": "acct-1",
			"changes": [{
				"value": {
					"messages": [{
						"from": "5511888",
						"id": "wamid.edit2",
						"timestamp": "1700000200",
						"type": "text",
						"text": {"body": "corrected text"},
						"edit": {"message_id": "wamid.orig"}
					}]
				}
			}]
		}]
	}`)

	pm, err := cloudTestNormalizer().ParseMessage(payload)
	if err != nil || pm == nil {
		t.Fatalf("expected parsed message, got %v, %v", pm, err)
	}
	if pm.EditedMessageID != "wamid.orig" {
		t.Fatalf("expected edit marker, got %q", pm.EditedMessageID)
	}
	if pm.Body != "corrected text" {
		t.Fatalf("unexpected body %q", pm.Body)
	}
}

func TestCloudParseMessage_StatusOnlyPayloadIsNil(t *testing.T) {
	payload := []byte(`{
		"entry": [{
			"id": "acct-1",
			"changes": [{
				"value": {
					"statuses": [{"id": "wamid.s", "status": "read", "timestamp": "1700000300"}]
				}
			}]
		}]
	}`)

	pm, err := cloudTestNormalizer().ParseMessage(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pm != nil {
		t.Fatalf("expected nil for status-only payload, got %+v", pm)
	}
}

func TestCloudParseMessage_UnsupportedTypeIsNil(t *testing.T) {
	payload := []byte(`{
		"entry": [{
			"id": "acct-1",
			"changes": [{
				"value": {
					"messages": [{"from": "5511888", "id": "wamid.x", "timestamp": "1700000300", "type": "unsupported"}]
				}
			}]
		}]
	}`)

	pm, err := cloudTestNormalizer().ParseMessage(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pm != nil {
		t.Fatalf("expected nil for unsupported type, got %+v", pm)
	}
}

func TestCloudParseCallAttempt_AlwaysNil(t *testing.T) {
	got, err := cloudTestNormalizer().ParseCallAttempt([]byte(`{"entry":[]}`))
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
}

func TestCloudParseStatusUpdate(t *testing.T) {
	payload := []byte(`{
		"entry": [{
			"id": "acct-1",
			"changes": [{
				"value": {
					"statuses": [
						{"id": "wamid.a", "status": "delivered", "timestamp": "1700000400"},
						{"id": "wamid.b", "status": "read", "timestamp": "1700000401"},
						{"id": "wamid.c", "status": "warmup", "timestamp": "1700000402"}
					]
				}
			}]
		}]
	}`)

	updates, err := cloudTestNormalizer().ParseStatusUpdate(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates (unknown status skipped), got %d", len(updates))
	}
	if updates[0].Status != chat.StatusDelivered || updates[1].Status != chat.StatusRead {
		t.Fatalf("unexpected statuses: %+v", updates)
	}
	if updates[0].ProviderMessageID != "wamid.a" {
		t.Fatalf("unexpected id %q", updates[0].ProviderMessageID)
	}
}

func TestCloudParseMessage_MalformedJSON(t *testing.T) {
	if _, err := cloudTestNormalizer().ParseMessage([]byte(`{broken`)); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}
