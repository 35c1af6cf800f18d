package service

import (
	"fmt"
	"net/mail"
	"strings"
	"sync/atomic"
	"time"

	"github.com/blazetrade/blazetrade-api/internal/config"

	gomail "gopkg.in/mail.v2"
)

// EmailService 邮件发送服务
type EmailService struct {
	cfg     *config.EmailConfig
	authCfg *config.AuthConfig

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewEmailService 创建邮件服务
func NewEmailService(cfg *config.EmailConfig, authCfg *config.AuthConfig) *EmailService {
	return &EmailService{cfg: cfg, authCfg: authCfg}
}

// EmailStats 邮件发送统计
type EmailStats struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

// Stats 返回进程内发送统计
func (s *EmailService) Stats() EmailStats {
	return EmailStats{
		Sent:   s.sent.Load(),
		Failed: s.failed.Load(),
	}
}

// SendVerificationEmail 发送邮箱验证邮件
func (s *EmailService) SendVerificationEmail(toEmail, username, rawToken string) error {
	subject, body := s.buildVerificationEmailContent(username, rawToken)
	return s.sendTextEmail(toEmail, subject, body)
}

// SendWelcomeEmail 发送注册成功欢迎邮件
func (s *EmailService) SendWelcomeEmail(toEmail, username string) error {
	subject, body := s.buildWelcomeEmailContent(username)
	return s.sendTextEmail(toEmail, subject, body)
}

// SendPasswordResetEmail 发送重置密码邮件
func (s *EmailService) SendPasswordResetEmail(toEmail, username, rawToken string) error {
	subject, body := s.buildPasswordResetEmailContent(username, rawToken)
	return s.sendTextEmail(toEmail, subject, body)
}

func (s *EmailService) buildVerificationEmailContent(username, rawToken string) (string, string) {
	link := s.clientLink("/verify-email/" + rawToken)
	subject := "Verify your BlazeTrade account"
	body := fmt.Sprintf(
		"Hi %s,\n\nWelcome to BlazeTrade. Please verify your email address to activate your account:\n\n%s\n\nThis link expires in 24 hours. If you did not sign up, you can ignore this email.\n\nThe BlazeTrade Team",
		displayName(username), link)
	return subject, body
}

func (s *EmailService) buildWelcomeEmailContent(username string) (string, string) {
	link := s.clientLink("/login")
	subject := "Welcome to BlazeTrade"
	body := fmt.Sprintf(
		"Hi %s,\n\nYour email has been verified and your BlazeTrade account is now active.\n\nSign in here: %s\n\nThe BlazeTrade Team",
		displayName(username), link)
	return subject, body
}

func (s *EmailService) buildPasswordResetEmailContent(username, rawToken string) (string, string) {
	link := s.clientLink("/reset-password/" + rawToken)
	subject := "Reset your BlazeTrade password"
	body := fmt.Sprintf(
		"Hi %s,\n\nWe received a request to reset your BlazeTrade password. Use the link below to choose a new one:\n\n%s\n\nThis link expires in 1 hour. If you did not request a reset, you can ignore this email and your password will stay unchanged.\n\nThe BlazeTrade Team",
		displayName(username), link)
	return subject, body
}

func (s *EmailService) clientLink(path string) string {
	base := ""
	if s.authCfg != nil {
		base = strings.TrimRight(strings.TrimSpace(s.authCfg.ClientURL), "/")
	}
	return base + path
}

func displayName(username string) string {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" {
		return "there"
	}
	return trimmed
}

func (s *EmailService) sendTextEmail(toEmail, subject, body string) error {
	if s.cfg == nil || !s.cfg.Enabled {
		return ErrEmailServiceDisabled
	}
	if s.cfg.Host == "" || s.cfg.Port == 0 || s.cfg.From == "" {
		return ErrEmailServiceNotConfigured
	}
	if _, err := mail.ParseAddress(toEmail); err != nil {
		return ErrInvalidEmail
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.cfg.From, s.cfg.FromName)
	msg.SetHeader("To", toEmail)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	dialer := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	dialer.Timeout = resolveEmailTimeout(s.cfg)
	dialer.SSL = s.cfg.UseSSL
	if s.cfg.UseTLS && !s.cfg.UseSSL {
		dialer.StartTLSPolicy = gomail.MandatoryStartTLS
	}

	if err := dialer.DialAndSend(msg); err != nil {
		s.failed.Add(1)
		return err
	}
	s.sent.Add(1)
	return nil
}

func resolveEmailTimeout(cfg *config.EmailConfig) time.Duration {
	if cfg == nil || cfg.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(cfg.TimeoutSeconds) * time.Second
}
