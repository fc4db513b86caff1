package wa

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"omnidesk/internal/chat"
)

// CloudNormalizer parses the business-platform webhook envelope:
// entry[] > changes[] > value carrying messages[] or statuses[].
type CloudNormalizer struct {
	accounts AccountTable
}

func NewCloudNormalizer(accounts AccountTable) *CloudNormalizer {
	return &CloudNormalizer{accounts: accounts}
}

func (n *CloudNormalizer) Provider() string { return "cloud" }

type cloudEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string     `json:"field"`
			Value cloudValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type cloudValue struct {
	Contacts []struct {
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []cloudMessage `json:"messages"`
	Statuses []cloudStatus  `json:"statuses"`
}

type cloudMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`

	Text *struct {
		Body string `json:"body"`
	} `json:"text"`

	Image    *cloudMedia `json:"image"`
	Audio    *cloudMedia `json:"audio"`
	Video    *cloudMedia `json:"video"`
	Document *cloudMedia `json:"document"`
	Sticker  *cloudMedia `json:"sticker"`

	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
	} `json:"location"`

	Contacts []struct {
		Name struct {
			FormattedName string `json:"formatted_name"`
		} `json:"name"`
	} `json:"contacts"`

	Reaction *struct {
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
	} `json:"reaction"`

	// Edit marks a payload that replaces a previously delivered message.
	Edit *struct {
		MessageID string `json:"message_id"`
	} `json:"edit"`
}

type cloudMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
	Caption  string `json:"caption"`
}

type cloudStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (n *CloudNormalizer) ParseMessage(payload []byte) (*chat.ParsedMessage, error) {
	var env cloudEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("cloud: %w", err)
	}

	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if len(change.Value.Messages) == 0 {
				continue
			}
			m := change.Value.Messages[0]

			senderName := ""
			if len(change.Value.Contacts) > 0 {
				senderName = change.Value.Contacts[0].Profile.Name
			}

			pm := &chat.ParsedMessage{
				ChatKey:           m.From,
				Category:          n.accounts.Category(entry.ID),
				Kind:              chatKind(m.From, "@g.us"),
				Provider:          n.Provider(),
				ProviderMessageID: m.ID,
				Direction:         chat.DirectionInbound,
				SenderPhone:       m.From,
				SenderName:        senderName,
				Metadata:          fmt.Sprintf(`{"account_id":%q}`, entry.ID),
				Timestamp:         unixSecondsString(m.Timestamp),
			}

			if m.Edit != nil {
				pm.EditedMessageID = m.Edit.MessageID
			}

			switch {
			case m.Text != nil:
				pm.Type = chat.TypeText
				pm.Body = m.Text.Body
			case m.Image != nil:
				fillCloudMedia(pm, chat.TypeImage, m.Image)
			case m.Audio != nil:
				fillCloudMedia(pm, chat.TypeAudio, m.Audio)
			case m.Video != nil:
				fillCloudMedia(pm, chat.TypeVideo, m.Video)
			case m.Document != nil:
				fillCloudMedia(pm, chat.TypeDocument, m.Document)
			case m.Sticker != nil:
				fillCloudMedia(pm, chat.TypeSticker, m.Sticker)
			case m.Location != nil:
				pm.Type = chat.TypeLocation
				pm.Body = locationPreview(m.Location.Latitude, m.Location.Longitude, m.Location.Name)
			case len(m.Contacts) > 0:
				pm.Type = chat.TypeContact
				names := make([]string, 0, len(m.Contacts))
				for _, c := range m.Contacts {
					names = append(names, c.Name.FormattedName)
				}
				pm.Body = contactsPreview(names)
			case m.Reaction != nil:
				pm.Type = chat.TypeReaction
				pm.Body = m.Reaction.Emoji
			default:
				// Unsupported message kind: not deliverable.
				return nil, nil
			}
			return pm, nil
		}
	}
	return nil, nil
}

func fillCloudMedia(pm *chat.ParsedMessage, t chat.MessageType, media *cloudMedia) {
	pm.Type = t
	pm.Body = media.Caption
	pm.MediaMimeType = media.MimeType
	pm.MediaFilename = media.Filename
}

// ParseCallAttempt: the envelope provider has no voice-call channel.
func (n *CloudNormalizer) ParseCallAttempt(payload []byte) (*chat.ParsedCallAttempt, error) {
	return nil, nil
}

func (n *CloudNormalizer) ParseStatusUpdate(payload []byte) ([]chat.ParsedStatusUpdate, error) {
	var env cloudEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("cloud: %w", err)
	}

	var out []chat.ParsedStatusUpdate
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				status, ok := cloudDeliveryStatus(st.Status)
				if !ok {
					continue
				}
				out = append(out, chat.ParsedStatusUpdate{
					Provider:          n.Provider(),
					ProviderMessageID: st.ID,
					Status:            status,
					Timestamp:         unixSecondsString(st.Timestamp),
				})
			}
		}
	}
	return out, nil
}

func cloudDeliveryStatus(s string) (chat.DeliveryStatus, bool) {
	switch s {
	case "sent":
		return chat.StatusSent, true
	case "delivered":
		return chat.StatusDelivered, true
	case "read":
		return chat.StatusRead, true
	case "failed":
		return chat.StatusFailed, true
	default:
		return "", false
	}
}

func unixSecondsString(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(n, 0).UTC()
}
