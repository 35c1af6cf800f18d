package worker

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/blazetrade/blazetrade-api/internal/logger"
	"github.com/blazetrade/blazetrade-api/internal/provider"
	"github.com/blazetrade/blazetrade-api/internal/queue"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskVerificationEmail, c.handleVerificationEmail)
	mux.HandleFunc(queue.TaskWelcomeEmail, c.handleWelcomeEmail)
	mux.HandleFunc(queue.TaskPasswordResetEmail, c.handlePasswordResetEmail)
}

func (c *Consumer) handleVerificationEmail(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_verification_email_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.VerificationEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_verification_email_unmarshal_failed", "error", err)
		return err
	}
	if strings.TrimSpace(payload.Email) == "" || strings.TrimSpace(payload.RawToken) == "" {
		logger.Debugw("worker_verification_email_skip_invalid_payload", "email", payload.Email)
		return nil
	}
	if c.EmailService == nil {
		logger.Warnw("worker_verification_email_skip_email_service_nil", "email", payload.Email)
		return nil
	}
	if err := c.EmailService.SendVerificationEmail(payload.Email, payload.Username, payload.RawToken); err != nil {
		logger.Warnw("worker_verification_email_send_failed",
			"email", payload.Email,
			"error", err,
		)
		return err
	}
	return nil
}

func (c *Consumer) handleWelcomeEmail(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_welcome_email_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.WelcomeEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_welcome_email_unmarshal_failed", "error", err)
		return err
	}
	if strings.TrimSpace(payload.Email) == "" {
		logger.Debugw("worker_welcome_email_skip_invalid_payload", "email", payload.Email)
		return nil
	}
	if c.EmailService == nil {
		logger.Warnw("worker_welcome_email_skip_email_service_nil", "email", payload.Email)
		return nil
	}
	if err := c.EmailService.SendWelcomeEmail(payload.Email, payload.Username); err != nil {
		logger.Warnw("worker_welcome_email_send_failed",
			"email", payload.Email,
			"error", err,
		)
		return err
	}
	return nil
}

func (c *Consumer) handlePasswordResetEmail(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_password_reset_email_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.PasswordResetEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_password_reset_email_unmarshal_failed", "error", err)
		return err
	}
	if strings.TrimSpace(payload.Email) == "" || strings.TrimSpace(payload.RawToken) == "" {
		logger.Debugw("worker_password_reset_email_skip_invalid_payload", "email", payload.Email)
		return nil
	}
	if c.EmailService == nil {
		logger.Warnw("worker_password_reset_email_skip_email_service_nil", "email", payload.Email)
		return nil
	}
	if err := c.EmailService.SendPasswordResetEmail(payload.Email, payload.Username, payload.RawToken); err != nil {
		logger.Warnw("worker_password_reset_email_send_failed",
			"email", payload.Email,
			"error", err,
		)
		return err
	}
	return nil
}
