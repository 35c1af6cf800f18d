package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/blazetrade/blazetrade-api/internal/cache"
	"github.com/blazetrade/blazetrade-api/internal/config"
	"github.com/blazetrade/blazetrade-api/internal/constants"
	"github.com/blazetrade/blazetrade-api/internal/logger"
	"github.com/blazetrade/blazetrade-api/internal/models"
	"github.com/blazetrade/blazetrade-api/internal/queue"
	"github.com/blazetrade/blazetrade-api/internal/repository"
	"github.com/blazetrade/blazetrade-api/internal/token"
)

// EmailSender 账号邮件发送接口（队列关闭时直接同步发送）
type EmailSender interface {
	SendVerificationEmail(toEmail, username, rawToken string) error
	SendWelcomeEmail(toEmail, username string) error
	SendPasswordResetEmail(toEmail, username, rawToken string) error
}

// AccountService 账号注册与邮箱验证服务
type AccountService struct {
	cfg          *config.Config
	userRepo     repository.UserRepository
	authService  *AuthService
	emailService EmailSender
	queueClient  *queue.Client
}

// NewAccountService 创建账号服务
func NewAccountService(cfg *config.Config, userRepo repository.UserRepository, authService *AuthService, emailService EmailSender, queueClient *queue.Client) *AccountService {
	return &AccountService{
		cfg:          cfg,
		userRepo:     userRepo,
		authService:  authService,
		emailService: emailService,
		queueClient:  queueClient,
	}
}

// SignupInput 注册请求输入
type SignupInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	FullName        string
	TermsAccepted   bool
}

// Signup 注册待验证账号并发送验证邮件
func (s *AccountService) Signup(input SignupInput) (*models.User, error) {
	if !input.TermsAccepted {
		return nil, ErrTermsRequired
	}
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return nil, ErrUsernameRequired
	}
	normalized, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(s.cfg.Security.PasswordPolicy, input.Password); err != nil {
		return nil, err
	}
	if input.Password != input.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}

	hashedPassword, err := s.authService.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	issued, err := token.Issue(s.verifyTokenTTL())
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &models.User{
		Username:           username,
		Email:              normalized,
		PasswordHash:       hashedPassword,
		FullName:           strings.TrimSpace(input.FullName),
		Status:             constants.UserStatusPending,
		VerifyTokenHash:    &issued.Hash,
		VerifyTokenExpires: &issued.ExpiresAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	// 唯一索引覆盖 pending 与 active 全集，冲突直接视为已注册
	if err := s.userRepo.Create(user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, ErrAccountExists
		}
		return nil, err
	}

	// 注册主流程不因邮件失败回滚，失败记录日志后允许走重发通道
	if err := s.dispatchVerificationEmail(user.Email, user.Username, issued.Raw); err != nil {
		logger.Warnw("signup_verification_email_failed",
			"user_id", user.ID,
			"email", user.Email,
			"error", err,
		)
	}

	return user, nil
}

// VerifyEmail 校验令牌并将账号原子提升为已验证状态
func (s *AccountService) VerifyEmail(rawToken string) (*models.User, string, time.Time, error) {
	trimmed := strings.TrimSpace(rawToken)
	if trimmed == "" {
		return nil, "", time.Time{}, ErrVerifyTokenInvalid
	}

	now := time.Now()
	user, err := s.userRepo.GetPendingByVerifyTokenHash(token.Hash(trimmed), now)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	if user == nil {
		// 不区分令牌不存在与已过期
		return nil, "", time.Time{}, ErrVerifyTokenInvalid
	}

	promoted, err := s.userRepo.Promote(user.ID, now)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	if !promoted {
		// 并发验证时输家视为令牌已失效
		return nil, "", time.Time{}, ErrVerifyTokenInvalid
	}

	user.Status = constants.UserStatusActive
	user.EmailVerifiedAt = &now
	user.VerifyTokenHash = nil
	user.VerifyTokenExpires = nil
	_ = cache.SetUserAuthState(context.Background(), cache.BuildUserAuthState(user))

	if err := s.dispatchWelcomeEmail(user.Email, user.Username); err != nil {
		logger.Warnw("welcome_email_failed",
			"user_id", user.ID,
			"email", user.Email,
			"error", err,
		)
	}

	jwtToken, expiresAt, err := s.authService.GenerateUserJWT(user)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return user, jwtToken, expiresAt, nil
}

// ResendResult 重发验证邮件结果
type ResendResult struct {
	AlreadyVerified bool
	NoPending       bool
}

// ResendVerification 重发验证邮件（2 分钟冷却，发送失败回滚冷却窗口）
func (s *AccountService) ResendVerification(email string) (ResendResult, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return ResendResult{}, err
	}

	active, err := s.userRepo.GetActiveByEmail(normalized)
	if err != nil {
		return ResendResult{}, err
	}
	if active != nil {
		return ResendResult{AlreadyVerified: true}, nil
	}

	pending, err := s.userRepo.GetPendingByEmail(normalized)
	if err != nil {
		return ResendResult{}, err
	}
	if pending == nil {
		return ResendResult{NoPending: true}, nil
	}

	now := time.Now()
	cooldown := s.resendCooldown()
	if pending.LastResendAt != nil {
		elapsed := now.Sub(*pending.LastResendAt)
		if elapsed < cooldown {
			remaining := cooldown - elapsed
			retryAfter := int(remaining / time.Second)
			if remaining%time.Second > 0 {
				retryAfter++
			}
			return ResendResult{}, &ResendCooldownError{RetryAfterSeconds: retryAfter}
		}
	}

	issued, err := token.Issue(s.verifyTokenTTL())
	if err != nil {
		return ResendResult{}, err
	}

	prevResendAt := pending.LastResendAt
	if err := s.userRepo.RotateVerifyToken(pending.ID, issued.Hash, issued.ExpiresAt, now); err != nil {
		return ResendResult{}, err
	}

	if err := s.dispatchVerificationEmail(pending.Email, pending.Username, issued.Raw); err != nil {
		// 发送失败不消耗冷却窗口
		if rollbackErr := s.userRepo.RollbackLastResend(pending.ID, prevResendAt); rollbackErr != nil {
			logger.Errorw("resend_cooldown_rollback_failed",
				"user_id", pending.ID,
				"error", rollbackErr,
			)
		}
		logger.Warnw("resend_verification_email_failed",
			"user_id", pending.ID,
			"email", pending.Email,
			"error", err,
		)
		return ResendResult{}, ErrEmailSendFailed
	}

	return ResendResult{}, nil
}

// Login 登录（邮箱或用户名 + 密码）
// 返回 ErrEmailNotVerified 时 user 非空，便于上层提示重发验证邮件
func (s *AccountService) Login(identifier, password string) (*models.User, string, time.Time, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}
	// 仅邮箱做小写归一，用户名按注册原样匹配
	if normalized, err := normalizeEmail(trimmed); err == nil {
		trimmed = normalized
	}

	user, err := s.userRepo.GetByIdentifier(trimmed)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	if user == nil {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}

	// 先验密码再区分验证状态，避免探测未验证邮箱
	if err := s.authService.VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}

	if user.Status != constants.UserStatusActive {
		return user, "", time.Time{}, ErrEmailNotVerified
	}

	jwtToken, expiresAt, err := s.authService.GenerateUserJWT(user)
	if err != nil {
		return nil, "", time.Time{}, err
	}

	now := time.Now()
	if err := s.userRepo.UpdateLastLogin(user.ID, now); err != nil {
		return nil, "", time.Time{}, err
	}
	user.LastLoginAt = &now
	_ = cache.SetUserAuthState(context.Background(), cache.BuildUserAuthState(user))

	return user, jwtToken, expiresAt, nil
}

// ForgotPassword 发起重置密码（对未注册邮箱返回同样的成功结果）
func (s *AccountService) ForgotPassword(email string) error {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	user, err := s.userRepo.GetActiveByEmail(normalized)
	if err != nil {
		return err
	}
	if user == nil {
		logger.Debugw("forgot_password_unknown_email", "email", normalized)
		return nil
	}

	issued, err := token.Issue(s.resetTokenTTL())
	if err != nil {
		return err
	}
	if err := s.userRepo.SetResetToken(user.ID, issued.Hash, issued.ExpiresAt); err != nil {
		return err
	}

	if err := s.dispatchPasswordResetEmail(user.Email, user.Username, issued.Raw); err != nil {
		if clearErr := s.userRepo.ClearResetToken(user.ID); clearErr != nil {
			logger.Errorw("reset_token_clear_failed",
				"user_id", user.ID,
				"error", clearErr,
			)
		}
		logger.Warnw("password_reset_email_failed",
			"user_id", user.ID,
			"email", user.Email,
			"error", err,
		)
		return ErrEmailSendFailed
	}

	return nil
}

// VerifyResetToken 校验重置令牌有效性，返回对应账号邮箱
func (s *AccountService) VerifyResetToken(rawToken string) (string, error) {
	trimmed := strings.TrimSpace(rawToken)
	if trimmed == "" {
		return "", ErrResetTokenInvalid
	}
	user, err := s.userRepo.GetActiveByResetTokenHash(token.Hash(trimmed), time.Now())
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrResetTokenInvalid
	}
	return user.Email, nil
}

// ResetPassword 使用重置令牌更新密码并签发新会话
func (s *AccountService) ResetPassword(rawToken, newPassword string) (*models.User, string, time.Time, error) {
	trimmed := strings.TrimSpace(rawToken)
	if trimmed == "" {
		return nil, "", time.Time{}, ErrResetTokenInvalid
	}
	if err := validatePassword(s.cfg.Security.PasswordPolicy, newPassword); err != nil {
		return nil, "", time.Time{}, err
	}

	now := time.Now()
	user, err := s.userRepo.GetActiveByResetTokenHash(token.Hash(trimmed), now)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	if user == nil {
		return nil, "", time.Time{}, ErrResetTokenInvalid
	}

	hashedPassword, err := s.authService.HashPassword(newPassword)
	if err != nil {
		return nil, "", time.Time{}, err
	}

	if err := s.userRepo.UpdateCredentials(user.ID, hashedPassword, now); err != nil {
		return nil, "", time.Time{}, err
	}

	user.PasswordHash = hashedPassword
	user.ResetTokenHash = nil
	user.ResetTokenExpires = nil
	user.TokenVersion++
	user.TokenInvalidBefore = &now
	_ = cache.SetUserAuthState(context.Background(), cache.BuildUserAuthState(user))

	jwtToken, expiresAt, err := s.authService.GenerateUserJWT(user)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return user, jwtToken, expiresAt, nil
}

// GetUserByID 获取用户信息
func (s *AccountService) GetUserByID(id uint) (*models.User, error) {
	if id == 0 {
		return nil, ErrNotFound
	}
	user, err := s.userRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

func (s *AccountService) dispatchVerificationEmail(email, username, rawToken string) error {
	if s.queueClient.Enabled() {
		return s.queueClient.EnqueueVerificationEmail(queue.VerificationEmailPayload{
			Email:    email,
			Username: username,
			RawToken: rawToken,
		})
	}
	if s.emailService == nil {
		return ErrEmailServiceNotConfigured
	}
	return s.emailService.SendVerificationEmail(email, username, rawToken)
}

func (s *AccountService) dispatchWelcomeEmail(email, username string) error {
	if s.queueClient.Enabled() {
		return s.queueClient.EnqueueWelcomeEmail(queue.WelcomeEmailPayload{
			Email:    email,
			Username: username,
		})
	}
	if s.emailService == nil {
		return ErrEmailServiceNotConfigured
	}
	return s.emailService.SendWelcomeEmail(email, username)
}

func (s *AccountService) dispatchPasswordResetEmail(email, username, rawToken string) error {
	if s.queueClient.Enabled() {
		return s.queueClient.EnqueuePasswordResetEmail(queue.PasswordResetEmailPayload{
			Email:    email,
			Username: username,
			RawToken: rawToken,
		})
	}
	if s.emailService == nil {
		return ErrEmailServiceNotConfigured
	}
	return s.emailService.SendPasswordResetEmail(email, username, rawToken)
}

func (s *AccountService) verifyTokenTTL() time.Duration {
	hours := 24
	if s.cfg != nil && s.cfg.Auth.VerifyTokenExpireHours > 0 {
		hours = s.cfg.Auth.VerifyTokenExpireHours
	}
	return time.Duration(hours) * time.Hour
}

func (s *AccountService) resetTokenTTL() time.Duration {
	minutes := 60
	if s.cfg != nil && s.cfg.Auth.ResetTokenExpireMinutes > 0 {
		minutes = s.cfg.Auth.ResetTokenExpireMinutes
	}
	return time.Duration(minutes) * time.Minute
}

func (s *AccountService) resendCooldown() time.Duration {
	seconds := 120
	if s.cfg != nil && s.cfg.Auth.ResendCooldownSeconds > 0 {
		seconds = s.cfg.Auth.ResendCooldownSeconds
	}
	return time.Duration(seconds) * time.Second
}

func normalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", ErrInvalidEmail
	}
	// 取解析后的裸地址，去掉 "Name <addr>" 形式中的显示名
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", ErrInvalidEmail
	}
	return addr.Address, nil
}

// NormalizeEmail 统一邮箱格式
func NormalizeEmail(email string) (string, error) {
	return normalizeEmail(email)
}
