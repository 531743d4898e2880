package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// registerRoutes sets up all routes on the Gin router.
func registerRoutes(router *gin.Engine, s *server) {
	router.POST("/webhook", s.handleWebhook)

	// Sockets. Any other upgrade request is treated as an audio stream.
	router.GET("/ws", s.handleSocket)
	router.GET("/dashboard", s.handleSocket)
	router.GET("/audio-stream", s.handleSocket)
	router.NoRoute(func(c *gin.Context) {
		if websocket.IsWebSocketUpgrade(c.Request) {
			s.handleSocket(c)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	router.GET("/active-calls", s.handleActiveCalls)
	router.GET("/call-notes/:callSid", s.handleCallNotes)
	router.GET("/all-notes", s.handleAllNotes)
	router.HEAD("/download-audio/:callSid", s.handleDownloadAudio)
	router.GET("/download-audio/:callSid", s.handleDownloadAudio)
	router.GET("/audio-files", s.handleAudioFiles)
	router.POST("/end-call/:callSid", s.handleEndCall)
	router.GET("/stats", s.handleStats)

	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
}
