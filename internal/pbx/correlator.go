package pbx

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"omnidesk/internal/calls"
	"omnidesk/internal/events"
	"omnidesk/internal/observability"
)

// ActiveCall is the transient, in-process view of one in-flight call. It is
// created on the first signaling event for a correlation id, mutated by later
// events for the same id, and destroyed on hangup or process restart. There
// is no durable recovery of in-flight state.
type ActiveCall struct {
	CorrelationID    string
	ChannelRef       string
	CallerNumber     string
	CalledNumber     string
	SignalingContext string
	Extension        string
	Origin           calls.Origin
	Direction        calls.Direction
	StartedAt        time.Time

	// PersistedCallID stays empty when the initial insert failed; store
	// updates for such calls are no-ops and the call lives in memory only.
	PersistedCallID string
}

// Store is the subset of the call repository the correlator needs.
type Store interface {
	Insert(ctx context.Context, rec calls.CallRecord) (calls.CallRecord, error)
	SetExtension(ctx context.Context, correlationID, extension string) error
	MarkAnswered(ctx context.Context, correlationID string, answeredAt time.Time, extension string) error
	Finish(ctx context.Context, correlationID string, status calls.Status, durationSeconds int, endedAt time.Time) error
	SetStatus(ctx context.Context, correlationID string, status calls.Status) error
}

// CorrelatorConfig carries the static conventions the correlator reads
// signaling against.
type CorrelatorConfig struct {
	// InboundContextPrefix marks inbound-route signaling contexts. A context
	// starting with it classifies the call as inbound; anything else is
	// outbound.
	InboundContextPrefix string

	// Extension numbering convention bounds.
	ExtensionMinDigits int
	ExtensionMaxDigits int

	// StoreTimeout bounds every persistence round-trip.
	StoreTimeout time.Duration
}

func (c CorrelatorConfig) withDefaults() CorrelatorConfig {
	out := c
	if out.InboundContextPrefix == "" {
		out.InboundContextPrefix = "from-"
	}
	if out.ExtensionMinDigits <= 0 {
		out.ExtensionMinDigits = 2
	}
	if out.ExtensionMaxDigits <= 0 {
		out.ExtensionMaxDigits = 6
	}
	if out.StoreTimeout <= 0 {
		out.StoreTimeout = 5 * time.Second
	}
	return out
}

// Correlator turns the stream of independent PBX signaling events into call
// lifecycle transitions. Events arrive serially from one signaling
// connection; the registry is still mutex-guarded because health and
// shutdown paths read it concurrently.
type Correlator struct {
	cfg   CorrelatorConfig
	store Store
	hub   events.Broadcaster
	log   *slog.Logger
	clock func() time.Time

	mu     sync.Mutex
	active map[string]*ActiveCall
}

func NewCorrelator(cfg CorrelatorConfig, store Store, hub events.Broadcaster, log *slog.Logger) *Correlator {
	if log == nil {
		log = slog.Default()
	}
	return &Correlator{
		cfg:    cfg.withDefaults(),
		store:  store,
		hub:    hub,
		log:    log,
		clock:  time.Now,
		active: make(map[string]*ActiveCall),
	}
}

// ActiveCount reports the number of tracked in-flight calls.
func (c *Correlator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// HandleSignal dispatches one signaling event. Events for untracked
// correlation ids are expected under partial visibility and dropped silently.
func (c *Correlator) HandleSignal(sig Signal) {
	observability.SignalEvents.WithLabelValues(sig.Name).Inc()
	switch sig.Name {
	case "Newchannel":
		c.onChannelCreated(sig)
	case "DialBegin":
		c.onDestinationRinging(sig)
	case "BridgeEnter":
		c.onBridged(sig)
	case "Hangup":
		c.onHangup(sig)
	case "VoicemailUserEntry":
		c.onVoicemail(sig)
	}
}

func (c *Correlator) onChannelCreated(sig Signal) {
	id := sig.CorrelationID()
	channel := sig.Get("Channel")
	if id == "" || isInternalLeg(channel) {
		return
	}

	c.mu.Lock()
	if _, tracked := c.active[id]; tracked {
		c.mu.Unlock()
		return
	}

	sigCtx := sig.Get("Context")
	direction := calls.DirectionOutbound
	if strings.HasPrefix(sigCtx, c.cfg.InboundContextPrefix) {
		direction = calls.DirectionInbound
	}

	call := &ActiveCall{
		CorrelationID:    id,
		ChannelRef:       channel,
		CallerNumber:     sig.Get("CallerIDNum"),
		CalledNumber:     sig.Get("Exten"),
		SignalingContext: sigCtx,
		Origin:           calls.OriginPBX,
		Direction:        direction,
		StartedAt:        c.clock().UTC(),
	}
	c.active[id] = call
	c.mu.Unlock()

	ctx, cancel := c.opCtx()
	defer cancel()
	rec, err := c.store.Insert(ctx, calls.CallRecord{
		CorrelationID: id,
		CallerNumber:  call.CallerNumber,
		CalledNumber:  call.CalledNumber,
		Origin:        call.Origin,
		Direction:     call.Direction,
		Status:        calls.StatusRinging,
		StartedAt:     call.StartedAt,
	})
	if err != nil {
		// Degraded mode: the call stays tracked without a persisted id so
		// later events are still classified; store updates become no-ops.
		c.log.Error("call insert failed", "correlation_id", id, "err", err)
		return
	}

	c.mu.Lock()
	if tracked, ok := c.active[id]; ok {
		tracked.PersistedCallID = rec.ID
	}
	c.mu.Unlock()

	c.hub.Broadcast(events.TypeCallCreated, rec)
}

func (c *Correlator) onDestinationRinging(sig Signal) {
	id := sig.CorrelationID()
	ext := extensionFromChannel(sig.Get("DestChannel"), c.cfg.ExtensionMinDigits, c.cfg.ExtensionMaxDigits)
	if ext == "" {
		return
	}

	c.mu.Lock()
	call, ok := c.active[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	call.Extension = ext
	persisted := call.PersistedCallID != ""
	c.mu.Unlock()

	if persisted {
		ctx, cancel := c.opCtx()
		defer cancel()
		if err := c.store.SetExtension(ctx, id, ext); err != nil {
			c.log.Error("extension update failed", "correlation_id", id, "err", err)
		}
	}

	c.hub.Broadcast(events.TypeExtensionBusy, map[string]string{
		"correlation_id": id,
		"extension":      ext,
	})
}

func (c *Correlator) onBridged(sig Signal) {
	id := sig.CorrelationID()

	c.mu.Lock()
	call, ok := c.active[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	ext := extensionFromChannel(sig.Get("Channel"), c.cfg.ExtensionMinDigits, c.cfg.ExtensionMaxDigits)
	if ext == "" {
		ext = call.Extension
	} else {
		call.Extension = ext
	}
	persisted := call.PersistedCallID != ""
	snapshot := *call
	c.mu.Unlock()

	answeredAt := c.clock().UTC()
	if persisted {
		ctx, cancel := c.opCtx()
		defer cancel()
		if err := c.store.MarkAnswered(ctx, id, answeredAt, ext); err != nil {
			c.log.Error("answer update failed", "correlation_id", id, "err", err)
		}
	}

	c.hub.Broadcast(events.TypeCallUpdated, map[string]any{
		"correlation_id": id,
		"status":         calls.StatusAnswered,
		"extension":      ext,
		"answered_at":    answeredAt,
		"direction":      snapshot.Direction,
	})
}

func (c *Correlator) onHangup(sig Signal) {
	id := sig.CorrelationID()

	c.mu.Lock()
	call, ok := c.active[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	// Terminal: the call leaves the registry no matter what happens below.
	delete(c.active, id)
	c.mu.Unlock()

	endedAt := c.clock().UTC()
	duration := endedAt.Sub(call.StartedAt)
	status := classifyHangup(sig.CauseCode(), duration)
	durationSeconds := int(duration / time.Second)

	if call.PersistedCallID != "" {
		ctx, cancel := c.opCtx()
		defer cancel()
		if err := c.store.Finish(ctx, id, status, durationSeconds, endedAt); err != nil {
			c.log.Error("hangup update failed", "correlation_id", id, "err", err)
		}
	}

	c.hub.Broadcast(events.TypeCallUpdated, map[string]any{
		"correlation_id":   id,
		"status":           status,
		"duration_seconds": durationSeconds,
		"ended_at":         endedAt,
		"extension":        call.Extension,
	})
	if call.Extension != "" {
		c.hub.Broadcast(events.TypeExtensionReleased, map[string]string{
			"correlation_id": id,
			"extension":      call.Extension,
		})
	}
}

func (c *Correlator) onVoicemail(sig Signal) {
	id := sig.CorrelationID()

	c.mu.Lock()
	call, ok := c.active[id]
	persisted := ok && call.PersistedCallID != ""
	c.mu.Unlock()

	// Voicemail signals for untracked or unpersisted calls are dropped.
	if !persisted {
		return
	}

	ctx, cancel := c.opCtx()
	defer cancel()
	if err := c.store.SetStatus(ctx, id, calls.StatusVoicemail); err != nil {
		c.log.Error("voicemail update failed", "correlation_id", id, "err", err)
		return
	}

	c.hub.Broadcast(events.TypeCallUpdated, map[string]any{
		"correlation_id": id,
		"status":         calls.StatusVoicemail,
	})
}

func (c *Correlator) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
}
