package server

import (
	"net/http"
	"time"

	httpHandler "crosspost/interfaces/http"
	"crosspost/interfaces/middleware"

	"crosspost/infrastructure/realtime"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func InitiateRouter(
	destinationHandler httpHandler.IDestinationHandler,
	postHandler httpHandler.IPostHandler,
	progressHub *realtime.Hub,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:4200", "http://localhost:4201", "https://localhost:4200", "https://localhost:4201"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.POST("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// OAuth authentication routes; the callback arrives from the provider's
	// browser redirect, so neither carries the bearer token.
	router.GET("/auth/:platform", destinationHandler.Authorize)
	router.GET("/auth/:platform/callback", destinationHandler.Callback)

	api := router.Group("api")
	api.Use(middleware.Auth())

	api.GET("/destinations", destinationHandler.GetDestinations)
	api.POST("/destinations/:platform/disconnect", destinationHandler.Disconnect)
	api.POST("/destinations/:platform/enabled", destinationHandler.SetEnabled)

	api.POST("/post", postHandler.Post)
	api.GET("/post/status", postHandler.Status)
	api.POST("/post/reset", postHandler.Reset)
	api.GET("/post/history", postHandler.History)

	// SSE endpoint for real-time job progress
	if progressHub != nil {
		api.GET("/post/stream", func(c *gin.Context) { progressHub.Serve(c) })
	}

	return router
}
