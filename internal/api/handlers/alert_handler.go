package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/callguard/internal/models"
	pgrepo "github.com/yoockh/callguard/internal/repositories/postgres"
	"github.com/yoockh/callguard/internal/utils"
)

// DefenseSetter is the gateway's defense level control.
type DefenseSetter interface {
	SetDefenseLevel(ctx context.Context, userID int64, level int, cfg map[string]any) error
}

type AlertHandler struct {
	audit   pgrepo.AuditRepository
	defense DefenseSetter
}

func NewAlertHandler(audit pgrepo.AuditRepository, defense DefenseSetter) *AlertHandler {
	return &AlertHandler{audit: audit, defense: defense}
}

func (h *AlertHandler) Mine(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	h.list(c, userID)
}

// ForUser is the admin view of any user's audit trail.
func (h *AlertHandler) ForUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(c, utils.E(utils.CodeInvalidArgument, "AlertHandler.ForUser", "invalid user_id", err))
		return
	}
	h.list(c, userID)
}

func (h *AlertHandler) list(c *gin.Context, userID int64) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := h.audit.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, "AlertHandler.list", "failed to list alerts", err))
		return
	}
	if rows == nil {
		rows = []models.MessageLog{}
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}

type defenseLevelReq struct {
	Level  *int           `json:"level" binding:"required"`
	Config map[string]any `json:"config"`
}

// SetDefenseLevel lets an operator move a user's defense level, including down.
func (h *AlertHandler) SetDefenseLevel(c *gin.Context) {
	const op = "AlertHandler.SetDefenseLevel"

	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid user_id", err))
		return
	}

	var req defenseLevelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}

	if err := h.defense.SetDefenseLevel(c.Request.Context(), userID, *req.Level, req.Config); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "level": *req.Level})
}
