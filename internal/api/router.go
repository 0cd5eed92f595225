package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/koladefaj/document-intelligence-backend/config"
	"github.com/koladefaj/document-intelligence-backend/internal/api/handler"
	"github.com/koladefaj/document-intelligence-backend/internal/api/middleware"
)

type Router struct {
	authHandler      *handler.AuthHandler
	documentHandler  *handler.DocumentHandler
	taskHandler      *handler.TaskHandler
	websocketHandler *handler.WebSocketHandler
	healthHandler    *handler.HealthHandler
	authenticator    middleware.Authenticator
	limiter          *middleware.RateLimiter
	cfg              *config.Config
	log              *zap.Logger
}

func NewRouter(
	authHandler *handler.AuthHandler,
	documentHandler *handler.DocumentHandler,
	taskHandler *handler.TaskHandler,
	websocketHandler *handler.WebSocketHandler,
	healthHandler *handler.HealthHandler,
	authenticator middleware.Authenticator,
	limiter *middleware.RateLimiter,
	cfg *config.Config,
	log *zap.Logger,
) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		authHandler:      authHandler,
		documentHandler:  documentHandler,
		taskHandler:      taskHandler,
		websocketHandler: websocketHandler,
		healthHandler:    healthHandler,
		authenticator:    authenticator,
		limiter:          limiter,
		cfg:              cfg,
		log:              log,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(r.log))
	engine.Use(middleware.CORS(r.cfg.CORS))
	engine.MaxMultipartMemory = r.cfg.Upload.MaxSize

	engine.GET("/health", r.healthHandler.Check)

	api := engine.Group("/api/v1")
	{
		// push channel authenticates with ?token= since browsers cannot set headers
		api.GET("/ws/tasks/:task_id", r.websocketHandler.Handle)

		auth := api.Group("/auth")
		if r.cfg.RateLimit.Enabled && r.limiter != nil {
			auth.Use(middleware.RateLimit(r.limiter, r.log))
		}
		{
			auth.POST("/register", r.authHandler.Register)
			auth.POST("/login", r.authHandler.Login)
			auth.POST("/refresh", r.authHandler.Refresh)
		}

		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.authenticator))
		{
			documents := authenticated.Group("/documents")
			{
				documents.POST("/upload", r.documentHandler.Upload)
				documents.GET("", r.documentHandler.List)
				documents.GET("/", r.documentHandler.List)
				documents.GET("/:id", r.documentHandler.Get)
				documents.POST("/:id/retry", r.documentHandler.Retry)
			}

			authenticated.GET("/tasks/:task_id", r.taskHandler.Status)
		}
	}

	return engine
}
