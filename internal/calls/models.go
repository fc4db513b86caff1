package calls

import "time"

// CallRecord is the durable record of one call, PBX or WhatsApp voice attempt.
//
// Invariant: exactly one record per CorrelationID. Status is monotonic-terminal:
// once a terminal status is written on hangup, no further writes happen for
// that correlation id.
//
// NOTE: Provider-specific payloads do not belong here; the correlator and the
// webhook pipeline translate wire events into this shape before persisting.

type CallRecord struct {
	ID            string `json:"id" db:"id"`
	CorrelationID string `json:"correlation_id" db:"correlation_id"`

	CallerNumber string `json:"caller_number" db:"caller_number"`
	CalledNumber string `json:"called_number,omitempty" db:"called_number"`
	CallerName   string `json:"caller_name,omitempty" db:"caller_name"`

	Origin    Origin    `json:"origin" db:"origin"`
	Direction Direction `json:"direction" db:"direction"`
	Status    Status    `json:"status" db:"status"`

	// Extension is the internal line (ramal) that rang or answered, if any.
	Extension string `json:"extension,omitempty" db:"extension"`

	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Origin string

const (
	OriginPBX               Origin = "pbx"
	OriginWhatsAppVoiceCall Origin = "whatsapp-voice-attempt"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Status string

const (
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusMissed    Status = "missed"
	StatusRejected  Status = "rejected"
	StatusBusy      Status = "busy"
	StatusVoicemail Status = "voicemail"
	StatusFailed    Status = "failed"
)
