package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

const (
	HeaderCallbackSignature = "X-Executor-Signature"
	maxCallbackBody         = 1 << 20
)

// SignCallback returns the hex HMAC-SHA256 of body under secret, prefixed the
// way the executor sends it.
func SignCallback(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// RequireCallbackSignature rejects executor callbacks whose body does not
// match the signature header. An empty secret disables the check.
func RequireCallbackSignature(log *logger.Logger, secret string) gin.HandlerFunc {
	log = log.With("middleware", "CallbackSignature")
	if secret == "" {
		log.Warn("CALLBACK_SECRET not set; executor callbacks are unauthenticated")
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody+1))
		if err != nil || len(body) > maxCallbackBody {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": gin.H{"message": "callback body too large or unreadable", "code": "validation"},
			})
			return
		}
		got := strings.TrimSpace(c.GetHeader(HeaderCallbackSignature))
		want := SignCallback(secret, body)
		if got == "" || !hmac.Equal([]byte(got), []byte(want)) {
			log.Warn("callback signature mismatch", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "invalid callback signature", "code": "unauthorized"},
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}
