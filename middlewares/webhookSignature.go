package middlewares

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/sirupsen/logrus"
)

const SignatureHeader = "X-Webhook-Signature"

// WebhookSignature checks "sha256=<hex hmac of body>". An empty secret turns
// the check off. The body is restored for the next handler.
func WebhookSignature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		got := strings.TrimPrefix(strings.TrimSpace(c.GetHeader(SignatureHeader)), "sha256=")
		if !ValidSignature(secret, body, got) {
			config.GetLogger().WithFields(logrus.Fields{
				"field": "WebhookSignature",
				"path":  c.Request.URL.Path,
			}).Warn("webhook signature mismatch")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}

func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func ValidSignature(secret string, body []byte, hexSig string) bool {
	want, err := hex.DecodeString(hexSig)
	if err != nil || len(want) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
