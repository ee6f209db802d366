package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/callguard/internal/api/middleware"
	"github.com/yoockh/callguard/internal/gateway"
	"github.com/yoockh/callguard/internal/models"
	"github.com/yoockh/callguard/internal/utils"
)

const (
	maxFrameBytes = 4 << 20
	pongWait      = 90 * time.Second
)

type WSHandler struct {
	gw       *gateway.Gateway
	jobs     JobSubmitter
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(gw *gateway.Gateway, jobs JobSubmitter, log *logrus.Logger) *WSHandler {
	return &WSHandler{
		gw:   gw,
		jobs: jobs,
		log:  log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // native mobile clients send no Origin
		},
	}
}

type wsClientMsg struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	CallID int64           `json:"call_id"`
}

type wsReply struct {
	Type        string `json:"type"`
	JobID       string `json:"job_id,omitempty"`
	CallID      int64  `json:"call_id,omitempty"`
	Status      string `json:"status,omitempty"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	TargetLevel *int   `json:"target_level,omitempty"`
	Action      string `json:"action,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// Connect upgrades the request and registers the session with the gateway.
// The token comes from the Authorization header or ?token=.
func (h *WSHandler) Connect(c *gin.Context) {
	token := middleware.BearerToken(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}

	sess, err := h.gw.Connect(c.Request.Context(), token, conn)
	if err != nil {
		code := websocket.ClosePolicyViolation
		msg, _ := json.Marshal(wsReply{Type: "error", Code: string(codeOf(err)), Message: err.Error()})
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = conn.WriteMessage(websocket.TextMessage, msg)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, "rejected"), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	defer h.gw.Remove(sess)

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handle(c, sess, data)
	}
}

func (h *WSHandler) handle(c *gin.Context, sess *gateway.Session, data []byte) {
	var msg wsClientMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		sess.Send(transportError("invalid json"))
		return
	}

	switch msg.Type {
	case "audio", "video":
		payload, err := decodeMedia(msg.Data)
		if err != nil {
			sess.Send(transportError("data must be base64 media"))
			return
		}
		h.submit(c, sess, msg, models.Modality(msg.Type), payload)

	case "text":
		var text string
		if err := json.Unmarshal(msg.Data, &text); err != nil || strings.TrimSpace(text) == "" {
			sess.Send(transportError("data must be a non-empty string"))
			return
		}
		h.submit(c, sess, msg, models.ModalityText, []byte(text))

	case "heartbeat":
		sess.Send(wsReply{Type: "heartbeat_ack", Timestamp: time.Now().UTC().UnixMilli()})

	case "control":
		// clients ask for the current level after reconnecting
		level := sess.DefenseLevel()
		sess.Send(wsReply{Type: models.EventControl, Action: models.ActionLevelSync, TargetLevel: &level})

	default:
		sess.Send(transportError("unknown message type"))
	}
}

func (h *WSHandler) submit(c *gin.Context, sess *gateway.Session, msg wsClientMsg, modality models.Modality, payload []byte) {
	if msg.CallID <= 0 {
		sess.Send(transportError("call_id is required"))
		return
	}

	id, err := h.jobs.Submit(c.Request.Context(), msg.CallID, sess.UserID, modality, payload)
	if err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{"user_id": sess.UserID, "call_id": msg.CallID}).Warn("ws submit failed")
		sess.Send(wsReply{Type: "error", Code: string(codeOf(err)), Message: "failed to queue fragment", CallID: msg.CallID})
		return
	}
	sess.Send(wsReply{Type: string(modality) + "_result", JobID: id, CallID: msg.CallID, Status: string(models.JobQueued)})
}

func decodeMedia(raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if i := strings.Index(s, ","); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:] // strip data:...;base64,
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, utils.ErrTransport
	}
	return b, nil
}

func transportError(msg string) wsReply {
	return wsReply{Type: "error", Code: string(utils.CodeInvalidArgument), Message: msg}
}

func codeOf(err error) utils.Code {
	var ae *utils.AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return utils.CodeInternal
}
