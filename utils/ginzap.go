package utils

import (
	"errors"
	"net/http"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDHeader carries the request id in and out of the API.
const RequestIDHeader = "X-Request-ID"

// NewRollingFileLogger builds a JSON logger that writes only to a rotated file.
func NewRollingFileLogger(path, level string, maxSizeMB, maxBackups, maxAgeDays int, compress bool) (*zap.Logger, error) {
	if path == "" {
		return nil, errors.New("log path is empty")
	}
	return newLogger(level, path, maxSizeMB, maxBackups, maxAgeDays, compress, false), nil
}

// Ginzap logs one line per request through gin-contrib/zap. A request id is
// taken from the incoming header or generated, then echoed back in the
// response and added to the log line.
func Ginzap(logger *zap.Logger, timeFormat string, utc bool) gin.HandlerFunc {
	logRequest := ginzap.GinzapWithConfig(logger, &ginzap.Config{
		TimeFormat: timeFormat,
		UTC:        utc,
		Context: func(c *gin.Context) []zapcore.Field {
			fields := []zapcore.Field{zap.String("request_id", c.GetString("request_id"))}
			if uid, ok := c.Get("user_id"); ok {
				fields = append(fields, zap.Any("user_id", uid))
			}
			return fields
		},
	})
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)
		logRequest(c)
	}
}

// RecoveryWithZap recovers from panics, logs them and answers 500 with the
// standard error envelope. Broken client connections are logged only.
func RecoveryWithZap(logger *zap.Logger, stack bool) gin.HandlerFunc {
	return ginzap.CustomRecoveryWithZap(logger, stack, func(c *gin.Context, _ any) {
		Error(c, http.StatusInternalServerError, "internal server error")
		c.Abort()
	})
}
