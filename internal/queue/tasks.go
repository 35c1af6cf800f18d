package queue

import (
	"encoding/json"

	"github.com/blazetrade/blazetrade-api/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskVerificationEmail 邮箱验证邮件任务
	TaskVerificationEmail = constants.TaskVerificationEmail
	// TaskWelcomeEmail 注册成功欢迎邮件任务
	TaskWelcomeEmail = constants.TaskWelcomeEmail
	// TaskPasswordResetEmail 重置密码邮件任务
	TaskPasswordResetEmail = constants.TaskPasswordResetEmail
)

// VerificationEmailPayload 邮箱验证邮件任务载荷
type VerificationEmailPayload struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	RawToken string `json:"raw_token"`
}

// WelcomeEmailPayload 欢迎邮件任务载荷
type WelcomeEmailPayload struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

// PasswordResetEmailPayload 重置密码邮件任务载荷
type PasswordResetEmailPayload struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	RawToken string `json:"raw_token"`
}

// NewVerificationEmailTask 创建邮箱验证邮件任务
func NewVerificationEmailTask(payload VerificationEmailPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVerificationEmail, body), nil
}

// NewWelcomeEmailTask 创建欢迎邮件任务
func NewWelcomeEmailTask(payload WelcomeEmailPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWelcomeEmail, body), nil
}

// NewPasswordResetEmailTask 创建重置密码邮件任务
func NewPasswordResetEmailTask(payload PasswordResetEmailPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPasswordResetEmail, body), nil
}
