package api

import (
	"errors"
	"net/http"

	"github.com/Domenick1991/cruisebooking/internal/domain"
	"github.com/Domenick1991/cruisebooking/internal/fusion"
	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

var upstreamStatus = map[fusion.ErrorCode]int{
	fusion.CodeInvalidSession:     http.StatusGone,
	fusion.CodeRateLimit:          http.StatusTooManyRequests,
	fusion.CodeTimeout:            http.StatusGatewayTimeout,
	fusion.CodeServiceUnavailable: http.StatusServiceUnavailable,
	fusion.CodeValidation:         http.StatusUnprocessableEntity,
	fusion.CodeCruiseNotAvailable: http.StatusConflict,
	fusion.CodeCabinNotAvailable:  http.StatusConflict,
	fusion.CodeInvalidCredentials: http.StatusBadGateway,
	fusion.CodeBookingFailed:      http.StatusBadGateway,
	fusion.CodeUnknown:            http.StatusBadGateway,
}

var kindStatus = map[domain.ErrorKind]int{
	domain.KindNotFound:   http.StatusNotFound,
	domain.KindForbidden:  http.StatusForbidden,
	domain.KindConflict:   http.StatusConflict,
	domain.KindBadRequest: http.StatusBadRequest,
}

// statusOf maps a service error onto an HTTP status and a stable body.
func statusOf(err error) (int, errorBody) {
	if de, ok := domain.AsError(err); ok {
		if errors.Is(de, domain.ErrSessionExpired) {
			return http.StatusGone, errorBody{Code: de.Code, Message: de.Message}
		}
		status, ok := kindStatus[de.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		return status, errorBody{Code: de.Code, Message: de.Message}
	}

	if fe, ok := fusion.AsError(err); ok {
		status, ok := upstreamStatus[fe.Code]
		if !ok {
			status = http.StatusBadGateway
		}
		msg := fe.Message
		if msg == "" {
			msg = "upstream reservation system error"
		}
		return status, errorBody{Code: string(fe.Code), Message: msg}
	}

	return http.StatusInternalServerError, errorBody{Code: "INTERNAL_ERROR", Message: "internal error"}
}

func writeError(c *gin.Context, err error) {
	status, body := statusOf(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: body})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: errorBody{Code: domain.ErrInvalidRequest.Code, Message: msg}})
}
