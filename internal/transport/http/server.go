package http

import (
	"github.com/gin-gonic/gin"

	"docchat/internal/bootstrap"
	"docchat/internal/transport/http/handler"
	"docchat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	authHandler := handler.NewAuthHandler(app.AuthService)
	documentHandler := handler.NewDocumentHandler(app.DocumentService)
	chatHandler := handler.NewChatHandler(app.ChatService)
	requireAuth := middleware.AuthJWT(app.Config.Auth.JWTSecret)

	router.GET("/healthz", healthHandler.Check)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", requireAuth, authHandler.Me)
	authGroup.PATCH("/me", requireAuth, authHandler.UpdateProfile)
	authGroup.DELETE("/me", requireAuth, authHandler.DeleteAccount)

	docGroup := v1.Group("/documents")
	docGroup.Use(requireAuth)
	docGroup.POST("/presign", documentHandler.PresignUpload)
	docGroup.POST("", documentHandler.CompleteUpload)
	docGroup.GET("", documentHandler.List)
	docGroup.GET("/:id", documentHandler.Get)
	docGroup.PATCH("/:id", documentHandler.Update)
	docGroup.DELETE("/:id", documentHandler.Delete)
	docGroup.POST("/:id/reprocess", documentHandler.Reprocess)

	chatGroup := v1.Group("/chat")
	chatGroup.Use(requireAuth)
	chatGroup.POST("/messages", chatHandler.SendMessage)
	chatGroup.GET("/sessions", chatHandler.ListSessions)
	chatGroup.GET("/sessions/:id", chatHandler.GetSession)
	chatGroup.PATCH("/sessions/:id", chatHandler.UpdateSession)
	chatGroup.DELETE("/sessions/:id", chatHandler.DeleteSession)
	chatGroup.POST("/sessions/:id/title", chatHandler.GenerateTitle)

	return router
}
