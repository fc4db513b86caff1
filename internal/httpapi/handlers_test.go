package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"omnidesk/internal/auth"
	"omnidesk/internal/calls"
	"omnidesk/internal/chat"

	"github.com/gin-gonic/gin"
)

type stubPBX struct{ up bool }

func (s stubPBX) Connected() bool { return s.up }

func newAPIFixture(t *testing.T, pbxUp bool) (*gin.Engine, *chat.MemoryRepo, *calls.MemoryRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	chats := chat.NewMemoryRepo()
	callRepo := calls.NewMemoryRepo()
	h := Handlers{Chats: chats, Calls: callRepo, PBX: stubPBX{up: pbxUp}}

	r := gin.New()
	r.GET("/healthz", h.Health)
	r.GET("/v1/conversations", h.ListConversations)
	r.GET("/v1/conversations/:id/messages", h.ListMessages)
	r.POST("/v1/conversations/:id/read", h.MarkConversationRead)
	r.POST("/v1/conversations/:id/assign", h.AssignConversation)
	r.GET("/v1/calls/recent", h.RecentCalls)
	return r, chats, callRepo
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func seedConversation(t *testing.T, chats *chat.MemoryRepo) chat.Conversation {
	t.Helper()
	conv, err := chats.UpsertConversation(context.Background(), chat.ConversationChange{
		ChatKey:  "5511999",
		Category: "general",
		Kind:     chat.KindIndividual,
		Name:     "Maria",
		Preview:  "hello",
		Inbound:  true,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return conv
}

func TestHealth(t *testing.T) {
	r, _, _ := newAPIFixture(t, true)

	w := doJSON(r, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" || resp["pbx_connected"] != true {
		t.Fatalf("unexpected health %v", resp)
	}
}

func TestHealth_DegradedWhenPBXDown(t *testing.T) {
	r, _, _ := newAPIFixture(t, false)

	w := doJSON(r, http.MethodGet, "/healthz", "")
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "degraded" {
		t.Fatalf("expected degraded, got %v", resp)
	}
}

func TestListConversations(t *testing.T) {
	r, chats, _ := newAPIFixture(t, true)
	seedConversation(t, chats)

	w := doJSON(r, http.MethodGet, "/v1/conversations", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Conversations []chat.Conversation `json:"conversations"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Conversations) != 1 || resp.Conversations[0].Name != "Maria" {
		t.Fatalf("unexpected list %+v", resp.Conversations)
	}
}

func TestListConversations_EmptyIsArrayNotNull(t *testing.T) {
	r, _, _ := newAPIFixture(t, true)

	w := doJSON(r, http.MethodGet, "/v1/conversations", "")
	if !strings.Contains(w.Body.String(), `"conversations":[]`) {
		t.Fatalf("expected empty array, got %s", w.Body.String())
	}
}

func TestMarkConversationRead(t *testing.T) {
	r, chats, _ := newAPIFixture(t, true)
	conv := seedConversation(t, chats)

	w := doJSON(r, http.MethodPost, "/v1/conversations/"+conv.ID+"/read", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	got, _ := chats.GetConversation(context.Background(), conv.ID)
	if got.UnreadCount != 0 {
		t.Fatalf("expected unread cleared, got %d", got.UnreadCount)
	}
}

func TestMarkConversationRead_NotFound(t *testing.T) {
	r, _, _ := newAPIFixture(t, true)

	w := doJSON(r, http.MethodPost, "/v1/conversations/missing/read", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAssignConversation_ExplicitOperator(t *testing.T) {
	r, chats, _ := newAPIFixture(t, true)
	conv := seedConversation(t, chats)

	w := doJSON(r, http.MethodPost, "/v1/conversations/"+conv.ID+"/assign", `{"operator_id":"op-2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	got, _ := chats.GetConversation(context.Background(), conv.ID)
	if got.AssignedOperatorID == nil || *got.AssignedOperatorID != "op-2" {
		t.Fatalf("expected op-2 assigned, got %v", got.AssignedOperatorID)
	}
}

func TestAssignConversation_DefaultsToCaller(t *testing.T) {
	gin.SetMode(gin.TestMode)
	chats := chat.NewMemoryRepo()
	conv := seedConversation(t, chats)
	h := Handlers{Chats: chats}

	r := gin.New()
	// Simulate the auth middleware having populated the request identity.
	r.POST("/v1/conversations/:id/assign", func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithOperator(c.Request.Context(), "op-self", "Alex"))
		h.AssignConversation(c)
	})

	w := doJSON(r, http.MethodPost, "/v1/conversations/"+conv.ID+"/assign", `{}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	got, _ := chats.GetConversation(context.Background(), conv.ID)
	if got.AssignedOperatorID == nil || *got.AssignedOperatorID != "op-self" {
		t.Fatalf("expected caller assignment, got %v", got.AssignedOperatorID)
	}
}

func TestRecentCalls(t *testing.T) {
	r, _, callRepo := newAPIFixture(t, true)
	if _, err := callRepo.Insert(context.Background(), calls.CallRecord{
		CorrelationID: "A",
		CallerNumber:  "5511999",
		Origin:        calls.OriginPBX,
		Direction:     calls.DirectionInbound,
		Status:        calls.StatusMissed,
		StartedAt:     time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := doJSON(r, http.MethodGet, "/v1/calls/recent?limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Calls []calls.CallRecord `json:"calls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Calls) != 1 || resp.Calls[0].CorrelationID != "A" {
		t.Fatalf("unexpected calls %+v", resp.Calls)
	}
}

func TestIntQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/?limit=25&bad=12x", nil)

	if got := intQuery(c, "limit"); got != 25 {
		t.Fatalf("got %d", got)
	}
	if got := intQuery(c, "bad"); got != 0 {
		t.Fatalf("expected 0 for non-numeric, got %d", got)
	}
	if got := intQuery(c, "absent"); got != 0 {
		t.Fatalf("expected 0 for absent, got %d", got)
	}
}
