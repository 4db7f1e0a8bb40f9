package httpapi

import (
	"net/http"
	"strings"
	"time"

	"tty-relay/internal/auth"
	"tty-relay/internal/calls"
	"tty-relay/internal/operator"
	"tty-relay/internal/relay"
	"tty-relay/internal/speech"
	"tty-relay/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Directory *auth.Directory

	Calls    *calls.Registry
	Operator *operator.Service
	Speech   *speech.Pipeline
	Relay    *relay.Hub
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

// Login exchanges operator credentials for a JWT token pair.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil || h.Directory == nil {
		abort(c, http.StatusInternalServerError, CodeInternal, "auth not configured")
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "invalid json")
		return
	}
	userID := strings.TrimSpace(req.UserID)
	role, err := h.Directory.Authenticate(userID, req.Password)
	if err != nil {
		logger.FromGin(c).Info("login rejected", "user_id", userID, "ip", c.ClientIP())
		writeError(c, err)
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), userID, role)
	if err != nil {
		abort(c, http.StatusInternalServerError, CodeInternal, "token issuance failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_in":    pair.ExpiresIn,
		"role":          role,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil || h.Directory == nil {
		abort(c, http.StatusInternalServerError, CodeInternal, "auth not configured")
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "refresh_token required")
		return
	}
	pair, err := h.Auth.Refresh(time.Now(), req.RefreshToken, h.Directory.RoleOf)
	if err != nil {
		abort(c, http.StatusUnauthorized, CodeUnauthorized, "invalid refresh token")
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- Calls ---

type callView struct {
	calls.CallSession
	relay.Stats
}

func (h Handlers) view(s calls.CallSession) callView {
	v := callView{CallSession: s}
	if h.Relay != nil {
		v.Stats = h.Relay.Stats(s.ID)
	}
	return v
}

type createCallRequest struct {
	To string `json:"to"`
}

func (h Handlers) CreateCall(c *gin.Context) {
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "invalid json")
		return
	}
	userID, role := identity(c)
	sess, err := h.Operator.Create(c.Request.Context(), operator.CreateRequest{
		To:       req.To,
		Operator: userID,
		Role:     role,
		IP:       c.ClientIP(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	logger.FromGin(c).Info("call placed", "call_id", sess.ID, "operator", userID)
	c.JSON(http.StatusCreated, h.view(sess))
}

// ListCalls returns tracked sessions by start time. ?active=true filters out
// ended sessions.
func (h Handlers) ListCalls(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	all := h.Calls.List()
	out := make([]callView, 0, len(all))
	for _, s := range all {
		if activeOnly && !s.IsActive {
			continue
		}
		out = append(out, h.view(s))
	}
	c.JSON(http.StatusOK, gin.H{"calls": out, "count": len(out)})
}

func (h Handlers) GetCall(c *gin.Context) {
	sess, err := h.Calls.Get(c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(sess))
}

type speakRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Rate  string `json:"rate"`
}

func (h Handlers) Speak(c *gin.Context) {
	var req speakRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "invalid json")
		return
	}
	userID, role := identity(c)
	res, err := h.Speech.Speak(c.Request.Context(), speech.Request{
		CallID: c.Param("call_id"),
		Text:   req.Text,
		Voice:  req.Voice,
		Rate:   req.Rate,
		Actor:  userID,
		Role:   role,
		IP:     c.ClientIP(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) EndCall(c *gin.Context) {
	userID, role := identity(c)
	sess, err := h.Operator.End(c.Request.Context(), operator.EndRequest{
		CallID: c.Param("call_id"),
		Actor:  userID,
		Role:   role,
		IP:     c.ClientIP(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(sess))
}

// --- Health ---

func (h Handlers) Healthz(c *gin.Context) {
	body := gin.H{"status": "ok", "time": time.Now().UTC()}
	if h.Calls != nil {
		body["sessions"] = h.Calls.Len()
		body["active_calls"] = h.Calls.ActiveCount()
	}
	if h.Relay != nil {
		body["relay_listeners"] = h.Relay.ListenerCount()
	}
	c.JSON(http.StatusOK, body)
}

func identity(c *gin.Context) (userID, role string) {
	userID, _ = auth.UserID(c.Request.Context())
	role, _ = auth.Role(c.Request.Context())
	return userID, role
}
