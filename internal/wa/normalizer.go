package wa

import (
	"fmt"
	"strings"

	"omnidesk/internal/chat"
)

// Normalizer is the provider-agnostic parsing contract. Implementations are
// pure: no I/O, no side effects, and they assume the payload already passed
// the pipeline's authenticity checks.
//
// Exactly two implementations exist (cloud, zap); the webhook path picks one
// through the Registry, never through runtime type inspection.
type Normalizer interface {
	Provider() string

	// ParseMessage returns nil for payload shapes that do not represent a
	// deliverable message (status callbacks, protocol noise).
	ParseMessage(payload []byte) (*chat.ParsedMessage, error)

	// ParseCallAttempt only yields a result for the voice-call-channel
	// provider; the other returns nil.
	ParseCallAttempt(payload []byte) (*chat.ParsedCallAttempt, error)

	// ParseStatusUpdate returns a list because one payload may batch
	// several receipts.
	ParseStatusUpdate(payload []byte) ([]chat.ParsedStatusUpdate, error)
}

type Registry struct {
	byProvider map[string]Normalizer
}

func NewRegistry(normalizers ...Normalizer) *Registry {
	r := &Registry{byProvider: make(map[string]Normalizer, len(normalizers))}
	for _, n := range normalizers {
		r.byProvider[n.Provider()] = n
	}
	return r
}

func (r *Registry) Lookup(provider string) (Normalizer, bool) {
	n, ok := r.byProvider[provider]
	return n, ok
}

// AccountTable maps an owning-account identifier to the routing/visibility
// category its conversations land in. Static configuration.
type AccountTable map[string]string

const defaultCategory = "general"

func (t AccountTable) Category(accountID string) string {
	if c, ok := t[accountID]; ok && c != "" {
		return c
	}
	return defaultCategory
}

func chatKind(chatID, groupSuffix string) chat.Kind {
	if strings.HasSuffix(chatID, groupSuffix) {
		return chat.KindGroup
	}
	return chat.KindIndividual
}

func locationPreview(lat, lng float64, name string) string {
	s := fmt.Sprintf("%g,%g", lat, lng)
	if name != "" {
		s += " - " + name
	}
	return s
}

func contactsPreview(names []string) string {
	return strings.Join(names, ", ")
}
