package main

import (
	"tty-relay/internal/auth"
	"tty-relay/internal/calls"
	"tty-relay/internal/config"
	"tty-relay/internal/httpapi"
	"tty-relay/internal/observability"
	"tty-relay/internal/operator"
	"tty-relay/internal/rbac"
	"tty-relay/internal/relay"
	"tty-relay/internal/speech"
	"tty-relay/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	cfg       config.Config
	auth      *auth.Manager
	directory *auth.Directory
	registry  *calls.Registry
	hub       *relay.Hub
	processor *telephony.Processor
	pipeline  *speech.Pipeline
	operator  *operator.Service
	urls      telephony.URLs
	metrics   *observability.Metrics
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := httpapi.Handlers{
		Auth:      d.auth,
		Directory: d.directory,
		Calls:     d.registry,
		Operator:  d.operator,
		Speech:    d.pipeline,
		Relay:     d.hub,
	}

	// public
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(d.metrics.Handler()))

	// Control plane callbacks (public, signed when enabled).
	{
		wh := telephony.TwilioWebhookHandler{
			Processor:  d.processor,
			URLs:       d.urls,
			Transcribe: d.cfg.Calls.Transcribe,
		}
		provider := r.Group("")
		if d.cfg.Twilio.ValidateSignature {
			provider.Use(telephony.ValidateSignature(d.cfg.App.PublicBaseURL, d.cfg.Twilio.AuthToken))
		}
		provider.POST("/twiml/outgoing-call", wh.HandleOutgoingCall)
		provider.POST("/twiml/continue-call", wh.HandleContinueCall)
		provider.POST("/webhooks/twilio/call-status", wh.HandleCallStatus)
		provider.POST("/webhooks/twilio/transcription", wh.HandleTranscription)
		provider.POST("/webhooks/twilio/recording", wh.HandleRecording)

		producer := relay.ProducerHandler{Hub: d.hub}
		provider.GET("/media-stream", producer.Serve)
	}

	authMW := auth.RequireAccessToken(d.auth)

	// Operator playback websocket.
	listener := relay.ListenerHandler{Hub: d.hub, WriteTimeout: d.cfg.Relay.WriteTimeout}
	r.GET("/ws/listen", authMW, rbac.CanObserve(), listener.Serve)

	// AUTH routes (token issuance).
	authGroup := r.Group("/v1/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "role": role})
		})

		// CALLS routes
		callsGroup := v1.Group("/calls")
		{
			callsGroup.GET("", rbac.CanObserve(), h.ListCalls)
			callsGroup.GET("/:call_id", rbac.CanObserve(), h.GetCall)
			callsGroup.POST("", rbac.CanAct(), h.CreateCall)
			callsGroup.POST("/:call_id/speak", rbac.CanAct(), h.Speak)
			callsGroup.POST("/:call_id/end", rbac.CanAct(), h.EndCall)
		}
	}
}
