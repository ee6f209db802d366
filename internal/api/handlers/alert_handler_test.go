package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/callguard/internal/api/middleware"
	"github.com/yoockh/callguard/internal/auth"
	"github.com/yoockh/callguard/internal/models"
	"github.com/yoockh/callguard/internal/utils"
)

type stubAudit struct {
	rows      []models.MessageLog
	lastLimit int
}

func (s *stubAudit) Append(context.Context, *models.MessageLog) error { return nil }

func (s *stubAudit) ListByUser(_ context.Context, userID int64, limit int) ([]models.MessageLog, error) {
	s.lastLimit = limit
	var out []models.MessageLog
	for _, r := range s.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubAudit) PurgeBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type levelCall struct {
	userID int64
	level  int
	cfg    map[string]any
}

type stubDefense struct{ calls []levelCall }

func (s *stubDefense) SetDefenseLevel(_ context.Context, userID int64, level int, cfg map[string]any) error {
	if level < 0 || level > 2 {
		return utils.E(utils.CodeInvalidArgument, "stub", "level out of range", nil)
	}
	s.calls = append(s.calls, levelCall{userID, level, cfg})
	return nil
}

func alertRouter(h *AlertHandler) *gin.Engine {
	r := gin.New()
	g := r.Group("/")
	g.Use(middleware.JWTAuth(auth.NewVerifier(testAuth)))
	g.GET("/alerts", h.Mine)
	admin := g.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	admin.GET("/alerts/:user_id", h.ForUser)
	admin.PUT("/users/:user_id/defense-level", h.SetDefenseLevel)
	return r
}

func adminBearer(t *testing.T) string {
	tok, err := auth.NewVerifier(testAuth).Issue(1, middleware.RoleAdmin, time.Minute)
	require.NoError(t, err)
	return "Bearer " + tok
}

func send(r http.Handler, method, path, authz, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", authz)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAlertHandler_MineOnlyShowsCaller(t *testing.T) {
	audit := &stubAudit{rows: []models.MessageLog{
		{ID: 1, UserID: 7, Type: "alert", RiskLevel: "high"},
		{ID: 2, UserID: 8, Type: "info", RiskLevel: "safe"},
	}}
	r := alertRouter(NewAlertHandler(audit, &stubDefense{}))

	w := send(r, http.MethodGet, "/alerts?limit=5000", bearer(t, 7), "")
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Items []models.MessageLog `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(1), got.Items[0].ID)
	assert.Equal(t, 50, audit.lastLimit)

	w = send(r, http.MethodGet, "/alerts", bearer(t, 99), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[]}`, w.Body.String())
}

func TestAlertHandler_AdminRoutes(t *testing.T) {
	audit := &stubAudit{rows: []models.MessageLog{{ID: 3, UserID: 8}}}
	def := &stubDefense{}
	r := alertRouter(NewAlertHandler(audit, def))

	assert.Equal(t, http.StatusForbidden, send(r, http.MethodGet, "/admin/alerts/8", bearer(t, 7), "").Code)
	assert.Equal(t, http.StatusOK, send(r, http.MethodGet, "/admin/alerts/8", adminBearer(t), "").Code)
	assert.Equal(t, http.StatusBadRequest, send(r, http.MethodGet, "/admin/alerts/abc", adminBearer(t), "").Code)

	w := send(r, http.MethodPut, "/admin/users/8/defense-level", adminBearer(t), `{"level":0}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":8,"level":0}`, w.Body.String())
	require.Len(t, def.calls, 1)
	assert.Equal(t, levelCall{userID: 8, level: 0}, def.calls[0])

	assert.Equal(t, http.StatusBadRequest,
		send(r, http.MethodPut, "/admin/users/8/defense-level", adminBearer(t), `{"level":3}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		send(r, http.MethodPut, "/admin/users/8/defense-level", adminBearer(t), `{}`).Code)
	assert.Len(t, def.calls, 1)
}
