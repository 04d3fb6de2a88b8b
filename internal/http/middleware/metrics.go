package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/videoqueue-backend/internal/http/response"
	"github.com/yungbote/videoqueue-backend/internal/observability"
)

// Metrics records request counts, latency and the error code of failed
// requests. Routes listed in streaming are counted but not timed.
func Metrics(m *observability.Metrics, streaming ...string) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	untimed := make(map[string]bool, len(streaming))
	for _, route := range streaming {
		untimed[route] = true
	}
	return func(c *gin.Context) {
		start := time.Now()
		m.ApiInflightInc()
		defer m.ApiInflightDec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())
		if code := c.GetString(response.ErrorCodeKey); code != "" {
			m.IncAPIError(route, code)
		}
		if untimed[route] {
			m.CountAPIRequest(c.Request.Method, route, status)
			return
		}
		m.ObserveAPI(c.Request.Method, route, status, time.Since(start))
	}
}
