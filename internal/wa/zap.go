package wa

import (
	"encoding/json"
	"fmt"
	"time"

	"omnidesk/internal/chat"
)

// ZapNormalizer parses the flat single-object webhook format. This is the
// voice-call-channel provider: missed voice attempts arrive here as
// CallReceived callbacks, distinct from PBX calls.
type ZapNormalizer struct {
	accounts AccountTable
}

func NewZapNormalizer(accounts AccountTable) *ZapNormalizer {
	return &ZapNormalizer{accounts: accounts}
}

func (n *ZapNormalizer) Provider() string { return "zap" }

const (
	zapTypeMessage = "ReceivedCallback"
	zapTypeStatus  = "MessageStatusCallback"
	zapTypeCall    = "CallReceived"

	zapGroupSuffix = "-group"
)

type zapPayload struct {
	Type       string `json:"type"`
	InstanceID string `json:"instanceId"`

	Phone      string `json:"phone"`
	MessageID  string `json:"messageId"`
	FromMe     bool   `json:"fromMe"`
	SenderName string `json:"senderName"`
	ChatName   string `json:"chatName"`

	// Momment is the provider's (sic) millisecond epoch for the event.
	Momment int64 `json:"momment"`

	Text *struct {
		Message string `json:"message"`
	} `json:"text"`

	Image    *zapMedia `json:"image"`
	Audio    *zapMedia `json:"audio"`
	Video    *zapMedia `json:"video"`
	Document *zapMedia `json:"document"`
	Sticker  *zapMedia `json:"sticker"`

	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
	} `json:"location"`

	Contact *struct {
		DisplayName string `json:"displayName"`
	} `json:"contact"`

	Reaction *struct {
		Value             string `json:"value"`
		ReferencedMessage struct {
			MessageID string `json:"messageId"`
		} `json:"referencedMessage"`
	} `json:"reaction"`

	// EditedMessageID marks a payload that replaces a prior message.
	EditedMessageID string `json:"editedMessageId"`

	MentionedPhones []string `json:"mentionedPhones"`

	// Status callback fields. IDs batches several receipts in one delivery.
	Status string   `json:"status"`
	IDs    []string `json:"ids"`

	// Call callback fields.
	CallID string `json:"callId"`
}

func (n *ZapNormalizer) ParseMessage(payload []byte) (*chat.ParsedMessage, error) {
	var p zapPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("zap: %w", err)
	}
	if p.Type != zapTypeMessage {
		return nil, nil
	}

	direction := chat.DirectionInbound
	if p.FromMe {
		direction = chat.DirectionOutbound
	}

	pm := &chat.ParsedMessage{
		ChatKey:           p.Phone,
		Category:          n.accounts.Category(p.InstanceID),
		Kind:              chatKind(p.Phone, zapGroupSuffix),
		Provider:          n.Provider(),
		ProviderMessageID: p.MessageID,
		EditedMessageID:   p.EditedMessageID,
		Direction:         direction,
		SenderPhone:       p.Phone,
		SenderName:        p.SenderName,
		Mentions:          p.MentionedPhones,
		Metadata:          fmt.Sprintf(`{"instance_id":%q}`, p.InstanceID),
		Timestamp:         millisEpoch(p.Momment),
	}
	if pm.Kind == chat.KindGroup && p.ChatName != "" {
		pm.SenderName = p.ChatName
	}

	switch {
	case p.Text != nil:
		pm.Type = chat.TypeText
		pm.Body = p.Text.Message
	case p.Image != nil:
		fillZapMedia(pm, chat.TypeImage, p.Image)
	case p.Audio != nil:
		fillZapMedia(pm, chat.TypeAudio, p.Audio)
	case p.Video != nil:
		fillZapMedia(pm, chat.TypeVideo, p.Video)
	case p.Document != nil:
		fillZapMedia(pm, chat.TypeDocument, p.Document)
	case p.Sticker != nil:
		fillZapMedia(pm, chat.TypeSticker, p.Sticker)
	case p.Location != nil:
		pm.Type = chat.TypeLocation
		pm.Body = locationPreview(p.Location.Latitude, p.Location.Longitude, p.Location.Name)
	case p.Contact != nil:
		pm.Type = chat.TypeContact
		pm.Body = p.Contact.DisplayName
	case p.Reaction != nil:
		pm.Type = chat.TypeReaction
		pm.Body = p.Reaction.Value
	default:
		return nil, nil
	}
	return pm, nil
}

type zapMedia struct {
	Caption  string `json:"caption"`
	MimeType string `json:"mimeType"`
	FileName string `json:"fileName"`
}

func fillZapMedia(pm *chat.ParsedMessage, t chat.MessageType, media *zapMedia) {
	pm.Type = t
	pm.Body = media.Caption
	pm.MediaMimeType = media.MimeType
	pm.MediaFilename = media.FileName
}

func (n *ZapNormalizer) ParseCallAttempt(payload []byte) (*chat.ParsedCallAttempt, error) {
	var p zapPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("zap: %w", err)
	}
	if p.Type != zapTypeCall || p.CallID == "" {
		return nil, nil
	}
	return &chat.ParsedCallAttempt{
		ChatKey:        p.Phone,
		Category:       n.accounts.Category(p.InstanceID),
		Provider:       n.Provider(),
		ProviderCallID: p.CallID,
		CallerPhone:    p.Phone,
		CallerName:     p.SenderName,
		Timestamp:      millisEpoch(p.Momment),
	}, nil
}

func (n *ZapNormalizer) ParseStatusUpdate(payload []byte) ([]chat.ParsedStatusUpdate, error) {
	var p zapPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("zap: %w", err)
	}
	if p.Type != zapTypeStatus {
		return nil, nil
	}
	status, ok := zapDeliveryStatus(p.Status)
	if !ok {
		return nil, nil
	}

	at := millisEpoch(p.Momment)
	out := make([]chat.ParsedStatusUpdate, 0, len(p.IDs))
	for _, id := range p.IDs {
		out = append(out, chat.ParsedStatusUpdate{
			Provider:          n.Provider(),
			ProviderMessageID: id,
			Status:            status,
			Timestamp:         at,
		})
	}
	return out, nil
}

func zapDeliveryStatus(s string) (chat.DeliveryStatus, bool) {
	switch s {
	case "SENT":
		return chat.StatusSent, true
	case "RECEIVED":
		return chat.StatusDelivered, true
	case "READ", "PLAYED":
		return chat.StatusRead, true
	case "FAILED":
		return chat.StatusFailed, true
	default:
		return "", false
	}
}

func millisEpoch(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
