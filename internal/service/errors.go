package service

import (
	"errors"
	"fmt"
)

// 业务错误定义（handler 层通过 errors.Is 映射为 HTTP 状态码）
var (
	ErrAccountExists             = errors.New("user with this email or username already exists")
	ErrInvalidCredentials        = errors.New("invalid email or password")
	ErrEmailNotVerified          = errors.New("email not verified")
	ErrVerifyTokenInvalid        = errors.New("invalid or expired verification token")
	ErrResetTokenInvalid         = errors.New("invalid or expired reset token")
	ErrNoPendingAccount          = errors.New("no pending account for this email")
	ErrEmailSendFailed           = errors.New("failed to send email")
	ErrEmailServiceDisabled      = errors.New("email service disabled")
	ErrEmailServiceNotConfigured = errors.New("email service not configured")
	ErrInvalidEmail              = errors.New("invalid email address")
	ErrWeakPassword              = errors.New("password does not meet policy")
	ErrPasswordMismatch          = errors.New("passwords do not match")
	ErrUsernameRequired          = errors.New("username is required")
	ErrTermsRequired             = errors.New("terms must be accepted")
	ErrNotFound                  = errors.New("record not found")
)

// ResendCooldownError 重发验证邮件触发冷却窗口
type ResendCooldownError struct {
	RetryAfterSeconds int
}

func (e *ResendCooldownError) Error() string {
	return fmt.Sprintf("verification email was recently sent, retry after %d seconds", e.RetryAfterSeconds)
}

// AsResendCooldown 提取冷却错误
func AsResendCooldown(err error) (*ResendCooldownError, bool) {
	var cooldown *ResendCooldownError
	if errors.As(err, &cooldown) {
		return cooldown, true
	}
	return nil, false
}
