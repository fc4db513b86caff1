package main

import (
	"database/sql"

	"omnidesk/internal/auth"
	"omnidesk/internal/calls"
	"omnidesk/internal/chat"
	"omnidesk/internal/events"
	"omnidesk/internal/httpapi"
	"omnidesk/internal/ingest"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const streamPath = "/v1/events/stream"

type routeDeps struct {
	auth     *auth.Manager
	db       *sql.DB
	chats    chat.Repository
	calls    calls.Repository
	hub      *events.Hub
	pbx      interface{ Connected() bool }
	webhooks *ingest.WebhookHandlers
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	h := httpapi.Handlers{
		Auth:  deps.auth,
		Chats: deps.chats,
		Calls: deps.calls,
		DB:    deps.db,
		PBX:   deps.pbx,
	}

	// public
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider webhooks (public). Authenticity is the shared-secret token,
	// checked inside the handler so the response stays 2xx either way.
	deps.webhooks.Register(r)

	// protected API group
	v1 := r.Group("/v1")
	v1.POST("/auth/login", h.Login)
	v1.Use(auth.RequireAccessToken(deps.auth))
	{
		v1.GET("/conversations", h.ListConversations)
		v1.GET("/conversations/:id/messages", h.ListMessages)
		v1.POST("/conversations/:id/read", h.MarkConversationRead)
		v1.POST("/conversations/:id/assign", h.AssignConversation)

		v1.GET("/calls/recent", h.RecentCalls)

		stream := httpapi.StreamHandler{Hub: deps.hub, Buffer: 64}
		v1.GET("/events/stream", stream.Stream)
	}
}
