package api

import (
	voiceCallHandler "call-assistant/internal/voicecall/handler"
	"net/http"

	"github.com/gin-gonic/gin"
)

type API struct {
	router           *gin.RouterGroup
	voiceCallHandler voiceCallHandler.Handler
}

func New(router *gin.RouterGroup, voiceCallHandler voiceCallHandler.Handler) API {
	return API{
		router:           router,
		voiceCallHandler: voiceCallHandler,
	}
}

func (a *API) RegisterRoutes() {
	a.Health()
	apiGroup := a.router.Group("/api")
	{
		twilioGroup := apiGroup.Group("/twilio")
		twilioGroup.GET("/media-stream", a.voiceCallHandler.HandleMediaStream)

		webhookGroup := twilioGroup.Group("", a.voiceCallHandler.ValidateTwilioSignature)
		webhookGroup.POST("/voice", a.voiceCallHandler.HandleIncomingCall)
		webhookGroup.POST("/status", a.voiceCallHandler.HandleStatusCallback)
	}
}

func (a *API) Health() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
}
