package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellcheck/internal/auth"
	"wellcheck/internal/checkin"
	"wellcheck/internal/config"
	"wellcheck/internal/db"
)

type testServer struct {
	h   http.Handler
	svc *checkin.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dsn := fmt.Sprintf("file:router-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := db.Connect(dsn, nil)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrateAndIndexes(gdb))
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	now := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	svc := &checkin.Service{DB: gdb, Now: func() time.Time { return now }}
	cfg := config.Config{Defaults: config.BuiltinDefaults()}
	return &testServer{
		h:   NewRouter(cfg, gdb, auth.NewJWT("test-secret"), svc, nil),
		svc: svc,
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(t *testing.T, email string) (string, uint64) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "password": "correct horse",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &out)

	rec = s.do(t, http.MethodGet, "/me", out.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		UserID   uint64 `json:"user_id"`
		Timezone string `json:"timezone"`
	}
	decodeBody(t, rec, &me)
	assert.Equal(t, "UTC", me.Timezone)
	return out.Token, me.UserID
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

type checkInBody struct {
	ID             string  `json:"id"`
	Type           string  `json:"check_in_type"`
	Status         string  `json:"status"`
	ConversationID *string `json:"conversation_id"`
	TriggerContext struct {
		Reason      string `json:"reason"`
		MentionedIn string `json:"mentioned_in"`
	} `json:"trigger_context"`
	ActionsTaken []map[string]any `json:"actions_taken"`
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestAuthErrors(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "ana@example.com")

	rec := s.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "ana@example.com", "password": "correct horse",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ana@example.com", "password": "wrong password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ana@example.com", "password": "correct horse",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/checkins", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMorningFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	token, uid := s.register(t, "ana@example.com")
	ctx := context.Background()

	due, err := s.svc.ScheduleDue(ctx, uid, s.svc.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	morningID := due[0].ID

	rec := s.do(t, http.MethodGet, "/checkins", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []checkInBody
	decodeBody(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "morning", list[0].Type)
	assert.Equal(t, "scheduled", list[0].Status)

	rec = s.do(t, http.MethodPost, "/checkins/"+morningID+"/start", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var started checkInBody
	decodeBody(t, rec, &started)
	assert.Equal(t, "in_progress", started.Status)
	require.NotNil(t, started.ConversationID)
	convID := *started.ConversationID

	rec = s.do(t, http.MethodGet, "/conversations/"+convID+"/messages", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []struct {
		Role string `json:"role"`
	}
	decodeBody(t, rec, &msgs)
	require.NotEmpty(t, msgs)
	for _, m := range msgs {
		assert.Contains(t, []string{"user", "assistant"}, m.Role)
	}

	rec = s.do(t, http.MethodPost, "/conversations/"+convID+"/messages", token, map[string]string{
		"content": "Slept badly, big presentation at 14:00",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/conversations/"+convID+"/tools/create_followup", token, map[string]string{
		"time":   "12:00",
		"reason": "check in before the presentation",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		CheckInID string `json:"checkin_id"`
	}
	decodeBody(t, rec, &created)

	rec = s.do(t, http.MethodPost, "/conversations/"+convID+"/tools/record_action", token, map[string]any{
		"name":       "suggest_breathing",
		"parameters": map[string]any{"minutes": 5},
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/conversations/"+convID+"/tools/complete", token, map[string]any{
		"insights": map[string]any{
			"mood":     "anxious",
			"emotions": []map[string]any{{"name": "anxious", "intensity": 7}},
		},
		"summary": "Nervous about the presentation.",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var done checkInBody
	decodeBody(t, rec, &done)
	assert.Equal(t, "completed", done.Status)
	require.Len(t, done.ActionsTaken, 2)
	assert.Equal(t, "create_reminder", done.ActionsTaken[0]["action"])
	assert.Equal(t, "suggest_breathing", done.ActionsTaken[1]["action"])

	rec = s.do(t, http.MethodGet, "/checkins/"+created.CheckInID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var midday checkInBody
	decodeBody(t, rec, &midday)
	assert.Equal(t, "midday", midday.Type)
	assert.Equal(t, morningID, midday.TriggerContext.MentionedIn)

	rec = s.do(t, http.MethodGet, "/checkins/"+created.CheckInID+"/provenance", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chain []checkInBody
	decodeBody(t, rec, &chain)
	require.Len(t, chain, 2)
	assert.Equal(t, morningID, chain[1].ID)

	rec = s.do(t, http.MethodPost, "/checkins/"+morningID+"/skip", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/conversations/"+convID+"/tools/record_action", token, map[string]any{
		"name": "too_late",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/daily-logs/2024-05-06/aggregate", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var day struct {
		Summary     *string `json:"summary"`
		SummaryHTML *string `json:"summary_html"`
		CheckIns    []any   `json:"check_ins"`
		Emotions    []struct {
			Emotion   string `json:"emotion"`
			Intensity int    `json:"intensity"`
		} `json:"emotions"`
	}
	decodeBody(t, rec, &day)
	require.NotNil(t, day.SummaryHTML)
	assert.Contains(t, *day.SummaryHTML, "<strong>Morning Catch-up</strong>")
	assert.Len(t, day.CheckIns, 2)
	require.Len(t, day.Emotions, 1)
	assert.Equal(t, "anxious", day.Emotions[0].Emotion)
	assert.Equal(t, 7, day.Emotions[0].Intensity)
}

func TestCheckInsAreScopedToOwner(t *testing.T) {
	s := newTestServer(t)
	ana, _ := s.register(t, "ana@example.com")
	bob, _ := s.register(t, "bob@example.com")

	rec := s.do(t, http.MethodPost, "/checkins", ana, map[string]string{"reason": "rough afternoon"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c checkInBody
	decodeBody(t, rec, &c)
	assert.Equal(t, "adhoc", c.Type)
	assert.Equal(t, "rough afternoon", c.TriggerContext.Reason)

	rec = s.do(t, http.MethodGet, "/checkins/"+c.ID, bob, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodPost, "/checkins/"+c.ID+"/start", bob, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/checkins/"+c.ID+"/start", ana, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var started checkInBody
	decodeBody(t, rec, &started)

	// a foreign conversation cannot drive tools
	rec = s.do(t, http.MethodPost, "/conversations/"+*started.ConversationID+"/tools/record_action", bob, map[string]any{
		"name": "anything",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register(t, "ana@example.com")

	req := httptest.NewRequest(http.MethodPost, "/checkins/x/complete", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/daily-logs/not-a-date", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/daily-logs/2024-01-01", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/checkins?date=2024-13-01", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleSettings(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register(t, "ana@example.com")

	rec := s.do(t, http.MethodGet, "/settings/schedule", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sc map[string]any
	decodeBody(t, rec, &sc)
	assert.Equal(t, "UTC", sc["timezone"])

	sc["timezone"] = "Europe/Berlin"
	rec = s.do(t, http.MethodPut, "/settings/schedule", token, sc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me map[string]any
	decodeBody(t, rec, &me)
	assert.Equal(t, "Europe/Berlin", me["timezone"])

	sc["timezone"] = "Mars/Olympus"
	rec = s.do(t, http.MethodPut, "/settings/schedule", token, sc)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
