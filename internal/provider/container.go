package provider

import (
	"github.com/blazetrade/blazetrade-api/internal/cache"
	"github.com/blazetrade/blazetrade-api/internal/config"
	"github.com/blazetrade/blazetrade-api/internal/logger"
	"github.com/blazetrade/blazetrade-api/internal/models"
	"github.com/blazetrade/blazetrade-api/internal/queue"
	"github.com/blazetrade/blazetrade-api/internal/repository"
	"github.com/blazetrade/blazetrade-api/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// Repositories
	UserRepo repository.UserRepository

	// Services
	AuthService    *service.AuthService
	AccountService *service.AccountService
	EmailService   *service.EmailService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化 Services
	c.initServices()

	return c
}

func (c *Container) initRepositories() {
	db := models.DB
	c.UserRepo = repository.NewUserRepository(db)
}

func (c *Container) initServices() {
	c.EmailService = service.NewEmailService(&c.Config.Email, &c.Config.Auth)
	c.AuthService = service.NewAuthService(c.Config)
	c.AccountService = service.NewAccountService(c.Config, c.UserRepo, c.AuthService, c.EmailService, c.QueueClient)
}
