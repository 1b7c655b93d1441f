package api

import (
	"net/http"
	"time"

	"github.com/Domenick1991/cruisebooking/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const callerKey = "caller"

// CallerResolver turns an Authorization header into the caller identity.
type CallerResolver interface {
	Resolve(header string) (domain.Caller, error)
}

// RequireCaller rejects requests without a valid bearer token and stores the
// resolved caller on the context.
func RequireCaller(resolver CallerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := resolver.Resolve(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: errorBody{Code: "UNAUTHORIZED", Message: err.Error()}})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) (domain.Caller, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return domain.Caller{}, false
	}
	caller, ok := v.(domain.Caller)
	return caller, ok
}

// RequestLogger writes one structured line per request.
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if caller, ok := callerFrom(c); ok {
			entry = entry.WithField("user_id", caller.UserID)
		}
		if len(c.Errors) > 0 {
			entry.WithError(c.Errors.Last()).Error("request failed")
			return
		}
		entry.Debug("request served")
	}
}
