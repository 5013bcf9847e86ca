package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"

	"ringproxy/internal/logging"
)

// requestLogger logs every request at VERBOSE, and failed ones at DEFAULT.
func requestLogger(logger logr.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := logging.VERBOSE
		if status >= 500 {
			level = logging.DEFAULT
		}
		logger.V(level).Info("Handled request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"replica", c.Writer.Header().Get(ReplicaHeader),
			"duration", time.Since(start).String(),
		)
	}
}
