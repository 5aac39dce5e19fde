package http

import (
	"github.com/gin-gonic/gin"

	"inkwell/internal/bootstrap"
	"inkwell/internal/transport/http/handler"
	"inkwell/internal/transport/http/middleware"
)

type RouterDeps struct {
	GinMode        string
	JWTSecret      string
	MaxUploadBytes int64
	Context        handler.ContextAPI
	Workspace      handler.WorkspaceAPI
	Health         *handler.HealthHandler
}

func NewRouter(app *bootstrap.App) *gin.Engine {
	return Routes(RouterDeps{
		GinMode:        app.Config.App.GinMode,
		JWTSecret:      app.Config.Auth.JWTSecret,
		MaxUploadBytes: int64(app.Config.Ingest.MaxUploadMB) << 20,
		Context:        app.Context,
		Workspace:      app.Workspace,
		Health:         handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, app.HealthChecks()...),
	})
}

func Routes(deps RouterDeps) *gin.Engine {
	if deps.GinMode != "" {
		gin.SetMode(deps.GinMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = 8 << 20

	if deps.Health != nil {
		router.GET("/healthz", deps.Health.Check)
	}

	contextHandler := handler.NewContextHandler(deps.Context)
	workspaceHandler := handler.NewWorkspaceHandler(deps.Workspace, deps.MaxUploadBytes)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthJWT(deps.JWTSecret))
	v1.POST("/context", contextHandler.Build)

	chatGroup := v1.Group("/chat")
	chatGroup.POST("/ask", contextHandler.Ask)
	chatGroup.POST("/ask/stream", contextHandler.AskStream)
	chatGroup.GET("/:chat_id/memory", workspaceHandler.ChatMemory)

	v1.GET("/rules", workspaceHandler.GetRules)
	v1.PUT("/rules", workspaceHandler.SaveRules)

	v1.GET("/livedocs/:filename", workspaceHandler.LiveDocChunks)
	v1.PUT("/livedocs/:filename", workspaceHandler.UpdateLiveDoc)
	v1.DELETE("/livedocs/:filename", workspaceHandler.DeleteLiveDoc)

	docGroup := v1.Group("/documents")
	docGroup.POST("", workspaceHandler.UploadDocument)
	docGroup.GET("", workspaceHandler.ListDocuments)
	docGroup.GET("/:id", workspaceHandler.GetDocument)
	docGroup.DELETE("/:id", workspaceHandler.DeleteDocument)

	return router
}
