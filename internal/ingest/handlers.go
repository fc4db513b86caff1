package ingest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"omnidesk/internal/observability"
	"omnidesk/internal/wa"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

const headerWebhookToken = "X-Webhook-Token"

// WebhookHandlers terminate the provider webhook endpoints. Contract:
// validate, acknowledge, process — the 2xx goes out before any database
// round-trip, and an invalid token still gets a 2xx so the provider does not
// retry-storm us.
type WebhookHandlers struct {
	registry *wa.Registry
	pipeline *Pipeline

	// secrets maps provider slug to its shared-secret token; empty means the
	// provider embeds no secret and the check is skipped.
	secrets map[string]string

	log *slog.Logger

	// spawn runs the post-ack processing task. Swapped for a synchronous
	// runner in tests.
	spawn func(fn func())
}

func NewWebhookHandlers(registry *wa.Registry, pipeline *Pipeline, secrets map[string]string, log *slog.Logger) *WebhookHandlers {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandlers{
		registry: registry,
		pipeline: pipeline,
		secrets:  secrets,
		log:      log,
		spawn:    func(fn func()) { go fn() },
	}
}

func (h *WebhookHandlers) Register(r gin.IRouter) {
	r.POST("/webhooks/wa/:provider", h.Handle)
}

func (h *WebhookHandlers) Handle(c *gin.Context) {
	provider := c.Param("provider")
	n, ok := h.registry.Lookup(provider)
	if !ok {
		observability.WebhookDeliveries.WithLabelValues(provider, "unknown_provider").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		observability.WebhookDeliveries.WithLabelValues(provider, "read_failed").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	if secret := h.secrets[provider]; secret != "" {
		if !tokenValid(secret, c.GetHeader(headerWebhookToken), body) {
			h.log.Warn("webhook token mismatch, payload dropped", "provider", provider)
			observability.WebhookDeliveries.WithLabelValues(provider, "rejected").Inc()
			c.JSON(http.StatusOK, gin.H{"status": "received"})
			return
		}
	}

	observability.WebhookDeliveries.WithLabelValues(provider, "accepted").Inc()

	// Acknowledge first; everything after this line is fire-and-forget.
	c.JSON(http.StatusOK, gin.H{"status": "received"})

	h.spawn(func() {
		defer func() {
			if p := recover(); p != nil {
				h.log.Error("webhook processing panicked", "provider", provider, "panic", p)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		h.pipeline.Dispatch(ctx, n, body)
	})
}

// tokenValid accepts the shared secret from the header or from an embedded
// top-level "token" field, whichever the provider sends.
func tokenValid(secret, header string, body []byte) bool {
	if header != "" {
		return subtle.ConstantTimeCompare([]byte(secret), []byte(header)) == 1
	}
	var embedded struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &embedded); err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(embedded.Token)) == 1
}
