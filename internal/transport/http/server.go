package http

import (
	"github.com/gin-gonic/gin"

	"cloutopia/internal/app"
	"cloutopia/internal/bootstrap"
	"cloutopia/internal/transport/http/handler"
	"cloutopia/internal/transport/http/middleware"
)

func NewRouter(a *bootstrap.App) *gin.Engine {
	cfg := a.Config
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		middleware.AccessLog(a.Logger),
		gin.Recovery(),
		middleware.BodyLimit(cfg.App.MaxRequestBytes),
	)

	healthHandler := handler.NewHealthHandler(a)
	chatHandler := handler.NewChatHandler(a.ChatService, cfg.KeepAliveInterval(), a.Logger)
	mediaHandler := handler.NewMediaHandler(a.ImageService, a.Logger)
	blogHandler := handler.NewBlogHandler(a.BlogService, a.Logger)

	router.GET("/", healthHandler.Root)
	router.GET("/health", healthHandler.Health)
	router.GET("/healthz", healthHandler.Check)
	router.Static(app.UploadURLPrefix, cfg.Upload.Dir)

	optionalAuth := middleware.OptionalJWT(cfg.Auth.JWTSecret)
	api := router.Group("/api")

	chatGroup := api.Group("/chat", optionalAuth)
	chatGroup.POST("", chatHandler.Complete)
	chatGroup.POST("/stream", chatHandler.Stream)
	chatGroup.GET("/sessions", middleware.AuthJWT(cfg.Auth.JWTSecret), chatHandler.ListSessions)
	chatGroup.GET("/sessions/:id/messages", chatHandler.History)
	chatGroup.DELETE("/sessions/:id", chatHandler.DeleteSession)

	api.POST("/upload", optionalAuth, mediaHandler.Upload)
	api.GET("/images/:id", mediaHandler.GetImage)

	blogGroup := api.Group("/blogs")
	blogGroup.GET("", blogHandler.List)
	blogGroup.GET("/:slug", blogHandler.Get)
	blogGroup.POST("/:slug/like", blogHandler.Like)

	return router
}
