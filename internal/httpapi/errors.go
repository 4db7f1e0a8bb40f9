package httpapi

import (
	"errors"
	"net/http"

	"tty-relay/internal/auth"
	"tty-relay/internal/calls"
	"tty-relay/internal/operator"
	"tty-relay/internal/speech"
	"tty-relay/internal/telephony"
	"tty-relay/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Error codes returned in the "code" field.
const (
	CodeInvalidRequest = "invalid_request"
	CodeUnauthorized   = "unauthorized"
	CodeForbidden      = "forbidden"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeCapacity       = "capacity_reached"
	CodeUpstream       = "upstream_error"
	CodeInternal       = "internal"
)

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}

// writeError maps domain errors onto HTTP responses.
func writeError(c *gin.Context, err error) {
	var derr *speech.DeliveryError
	switch {
	case errors.Is(err, calls.ErrNotFound):
		abort(c, http.StatusNotFound, CodeNotFound, "call not found")
	case errors.Is(err, calls.ErrDuplicateSession):
		abort(c, http.StatusConflict, CodeConflict, "call already tracked")
	case errors.Is(err, calls.ErrNotOwner):
		abort(c, http.StatusForbidden, CodeForbidden, "call placed by another operator")
	case errors.Is(err, calls.ErrSessionInactive):
		abort(c, http.StatusConflict, CodeConflict, "call is not active")
	case errors.Is(err, operator.ErrInvalidDestination),
		errors.Is(err, speech.ErrEmptyText),
		errors.Is(err, speech.ErrTextTooLong):
		abort(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	case errors.Is(err, operator.ErrCapacityReached):
		abort(c, http.StatusTooManyRequests, CodeCapacity, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		abort(c, http.StatusUnauthorized, CodeUnauthorized, "invalid credentials")
	case errors.As(err, &derr):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "message delivery failed", "code": CodeUpstream, "attempts": derr.Attempts})
	default:
		if cpe, ok := telephony.AsControlPlaneError(err); ok {
			logger.FromGin(c).Warn("control plane request failed", "op", cpe.Op, "status", cpe.Status, "code", cpe.Code, "err", err)
			abort(c, http.StatusBadGateway, CodeUpstream, "telephony provider request failed")
			return
		}
		_ = c.Error(err)
		abort(c, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}
