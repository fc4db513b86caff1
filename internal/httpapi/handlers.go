package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"omnidesk/internal/auth"
	"omnidesk/internal/calls"
	"omnidesk/internal/chat"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal repositories, return JSON.

type Handlers struct {
	Auth  *auth.Manager
	Chats chat.Repository
	Calls calls.Repository

	DB  *sql.DB
	PBX interface{ Connected() bool }
}

// --- Auth ---

type loginRequest struct {
	OperatorID   string `json:"operator_id"`
	OperatorName string `json:"operator_name"`
}

// Login issues an operator access token.
//
// NOTE: This is a skeleton-only endpoint. Real deployments must validate
// credentials against the operator directory first.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.OperatorID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "operator_id required"})
		return
	}
	token, err := h.Auth.Issue(time.Now(), req.OperatorID, req.OperatorName)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token})
}

// --- Health ---

func (h Handlers) Health(c *gin.Context) {
	status := "ok"
	dbOK := true
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.PingContext(ctx); err != nil {
			dbOK = false
			status = "degraded"
		}
	}
	pbxConnected := false
	if h.PBX != nil {
		pbxConnected = h.PBX.Connected()
	}
	if !pbxConnected {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        status,
		"db":            dbOK,
		"pbx_connected": pbxConnected,
	})
}

// --- Conversations ---

func (h Handlers) ListConversations(c *gin.Context) {
	convs, err := h.Chats.ListConversations(c.Request.Context(), c.Query("category"), intQuery(c, "limit"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "conversation list failed"})
		return
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (h Handlers) ListMessages(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "conversation id required"})
		return
	}
	msgs, err := h.Chats.ListMessages(c.Request.Context(), id, intQuery(c, "limit"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "message list failed"})
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h Handlers) MarkConversationRead(c *gin.Context) {
	conv, err := h.Chats.MarkConversationRead(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == chat.ErrNotFound {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "mark read failed"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

type assignRequest struct {
	OperatorID string `json:"operator_id"`
}

// AssignConversation sets (or clears, with an empty operator_id) the
// conversation's assigned operator. Defaults to the caller's identity.
func (h Handlers) AssignConversation(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	operatorID := req.OperatorID
	if operatorID == "" {
		operatorID, _ = auth.OperatorID(c.Request.Context())
	}
	conv, err := h.Chats.AssignOperator(c.Request.Context(), c.Param("id"), operatorID)
	if err != nil {
		if err == chat.ErrNotFound {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "assignment failed"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

// --- Calls ---

func (h Handlers) RecentCalls(c *gin.Context) {
	recs, err := h.Calls.ListRecent(c.Request.Context(), intQuery(c, "limit"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call list failed"})
		return
	}
	if recs == nil {
		recs = []calls.CallRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": recs})
}

func intQuery(c *gin.Context, key string) int {
	n := 0
	if v := c.Query(key); v != "" {
		for _, r := range v {
			if r < '0' || r > '9' {
				return 0
			}
			n = n*10 + int(r-'0')
		}
	}
	return n
}
