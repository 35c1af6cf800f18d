package router

import (
	"github.com/blazetrade/blazetrade-api/internal/config"
	publichandlers "github.com/blazetrade/blazetrade-api/internal/http/handlers/public"
	"github.com/blazetrade/blazetrade-api/internal/logger"
	"github.com/blazetrade/blazetrade-api/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	publicHandler := publichandlers.New(c)

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	// API 路由组
	apiV1 := r.Group("/api/v1")
	{
		// 用户认证接口
		auth := apiV1.Group("/auth")
		{
			auth.POST("/signup", publicHandler.Signup)
			auth.GET("/verify-email/:token", publicHandler.VerifyEmail)
			auth.POST("/resend-verification", publicHandler.ResendVerification)
			auth.POST("/login", publicHandler.Login)
			auth.POST("/forgot-password", publicHandler.ForgotPassword)
			auth.GET("/verify-reset-token/:token", publicHandler.VerifyResetToken)
			auth.PATCH("/reset-password/:token", publicHandler.ResetPassword)
		}

		// 用户接口（需鉴权）
		user := apiV1.Group("")
		user.Use(UserJWTAuthMiddleware(cfg.UserJWT.SecretKey, c.UserRepo))
		{
			user.GET("/me", publicHandler.Me)
			user.GET("/user/:id", publicHandler.GetUser)
		}
	}

	// 健康检查（含进程内邮件发送统计）
	r.GET("/health", func(ctx *gin.Context) {
		payload := gin.H{"status": "ok"}
		if c.EmailService != nil {
			payload["email"] = c.EmailService.Stats()
		}
		ctx.JSON(200, payload)
	})

	return r
}
