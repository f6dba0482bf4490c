package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/idtoken"
)

// validateIDToken checks signature, expiry and audience against Google's keys.
var validateIDToken = idtoken.Validate

// PubSubPushAuth verifies the OIDC token a Pub/Sub push subscription attaches.
// When serviceAccount is set the token must also carry that verified email.
func PubSubPushAuth(audience, serviceAccount string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		const bearer = "Bearer "
		if audience == "" || !strings.HasPrefix(auth, bearer) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		payload, err := validateIDToken(c.Request.Context(), strings.TrimSpace(auth[len(bearer):]), audience)
		if err != nil {
			config.GetLogger().WithFields(logrus.Fields{
				"field": "PubSubPushAuth",
				"path":  c.Request.URL.Path,
			}).Warn("push token rejected: " + err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		if serviceAccount != "" {
			email, _ := payload.Claims["email"].(string)
			verified, _ := payload.Claims["email_verified"].(bool)
			if !verified || !strings.EqualFold(email, serviceAccount) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
		}
		c.Next()
	}
}
