package telephony

import (
	"net/http"
	"strings"

	"tty-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	twclient "github.com/twilio/twilio-go/client"
)

const headerTwilioSignature = "X-Twilio-Signature"

// ValidateSignature rejects webhook requests whose X-Twilio-Signature does not
// match publicBaseURL + request URI and the POST form, signed with authToken.
// publicBaseURL must be the externally visible base Twilio was given. Websocket
// upgrades are signed over the ws(s) form of that base.
func ValidateSignature(publicBaseURL, authToken string) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	wsBase := websocketBase(base)
	validator := twclient.NewRequestValidator(authToken)

	return func(c *gin.Context) {
		log := logger.FromGin(c)

		sig := c.GetHeader(headerTwilioSignature)
		if sig == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing signature"})
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}

		params := make(map[string]string, len(c.Request.PostForm))
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		url := base + c.Request.URL.RequestURI()
		if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			url = wsBase + c.Request.URL.RequestURI()
		}
		if !validator.Validate(url, params, sig) {
			log.Warn("twilio signature mismatch", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
