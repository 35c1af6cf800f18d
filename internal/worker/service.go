package worker

import (
	"context"
	"errors"
	"time"

	"github.com/blazetrade/blazetrade-api/internal/config"
	"github.com/blazetrade/blazetrade-api/internal/logger"
	"github.com/blazetrade/blazetrade-api/internal/queue"

	"github.com/hibiken/asynq"
)

const defaultPendingCleanupInterval = time.Hour

// Service 异步队列服务
type Service struct {
	name     string
	server   *asynq.Server
	mux      *asynq.ServeMux
	consumer *Consumer
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	return &Service{
		name:     "worker",
		server:   server,
		mux:      mux,
		consumer: consumer,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	if s.consumer != nil && s.consumer.UserRepo != nil {
		go s.runPendingCleanupLoop(ctx)
	}
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

// runPendingCleanupLoop 定期清理验证令牌已过期的待验证账号，释放被占用的邮箱和用户名
func (s *Service) runPendingCleanupLoop(ctx context.Context) {
	if s == nil || s.consumer == nil || s.consumer.UserRepo == nil {
		return
	}
	runOnce := func() {
		deleted, err := s.consumer.UserRepo.DeleteExpiredPending(time.Now())
		if err != nil {
			logger.Warnw("worker_pending_cleanup_failed", "error", err)
			return
		}
		if deleted > 0 {
			logger.Infow("worker_pending_cleanup_done", "deleted", deleted)
		}
	}
	runOnce()

	ticker := time.NewTicker(s.pendingCleanupInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

func (s *Service) pendingCleanupInterval() time.Duration {
	if s != nil && s.consumer != nil && s.consumer.Config != nil {
		if mins := s.consumer.Config.Auth.PendingCleanupIntervalMins; mins > 0 {
			return time.Duration(mins) * time.Minute
		}
	}
	return defaultPendingCleanupInterval
}
