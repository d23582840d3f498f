package admin

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
)

func recovery(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					observability.String("error", fmt.Sprint(err)),
					observability.String("method", c.Request.Method),
					observability.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
			}
		}()
		c.Next()
	}
}

func accessLog(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("admin request",
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.Int("status", c.Writer.Status()),
			observability.Duration("duration", time.Since(start)),
			observability.String("client_ip", c.ClientIP()),
		)
	}
}
