package public

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/blazetrade/blazetrade-api/internal/http/response"
	"github.com/blazetrade/blazetrade-api/internal/models"
	"github.com/blazetrade/blazetrade-api/internal/service"

	"github.com/gin-gonic/gin"
)

// SignupRequest 注册请求
type SignupRequest struct {
	Username        string `json:"username" binding:"required"`
	Email           string `json:"email" binding:"required"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
	FullName        string `json:"full_name"`
	Terms           bool   `json:"terms"`
}

// Signup 注册待验证账号
func (h *Handler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid request body", err)
		return
	}

	user, err := h.AccountService.Signup(service.SignupInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		FullName:        req.FullName,
		TermsAccepted:   req.Terms,
	})
	if err != nil {
		respondSignupError(c, err)
		return
	}

	response.Created(c, "Registration successful. Please check your email to verify your account.", gin.H{
		"email": user.Email,
	})
}

// VerifyEmail 校验邮箱验证令牌
func (h *Handler) VerifyEmail(c *gin.Context) {
	rawToken := c.Param("token")

	user, token, expiresAt, err := h.AccountService.VerifyEmail(rawToken)
	if err != nil {
		if errors.Is(err, service.ErrVerifyTokenInvalid) {
			if wantsHTMLRedirect(c) {
				c.Redirect(http.StatusFound, h.clientRedirectURL("/login", url.Values{
					"verificationError": {"Invalid or expired verification link"},
				}))
				return
			}
			respondError(c, response.CodeBadRequest, "Invalid or expired verification token.", nil)
			return
		}
		respondError(c, response.CodeInternal, "email verification failed", err)
		return
	}

	if wantsHTMLRedirect(c) {
		c.Redirect(http.StatusFound, h.clientRedirectURL("/login", url.Values{
			"verified": {"true"},
		}))
		return
	}

	response.SuccessWithMsg(c, "Email verified successfully.", gin.H{
		"user":       userView(user),
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
}

// ResendVerificationRequest 重发验证邮件请求
type ResendVerificationRequest struct {
	Email string `json:"email" binding:"required"`
}

// ResendVerification 重发验证邮件
func (h *Handler) ResendVerification(c *gin.Context) {
	var req ResendVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid request body", err)
		return
	}

	result, err := h.AccountService.ResendVerification(req.Email)
	if err != nil {
		if cooldown, ok := service.AsResendCooldown(err); ok {
			response.TooManyRequests(c, "A verification email was sent recently. Please wait before retrying.", gin.H{
				"retry_after_seconds": cooldown.RetryAfterSeconds,
			})
			return
		}
		switch {
		case errors.Is(err, service.ErrInvalidEmail):
			respondError(c, response.CodeBadRequest, service.ErrInvalidEmail.Error(), nil)
		case errors.Is(err, service.ErrEmailSendFailed):
			respondError(c, response.CodeInternal, "Failed to send verification email. Please try again later.", err)
		default:
			respondError(c, response.CodeInternal, "resend verification failed", err)
		}
		return
	}

	if result.AlreadyVerified {
		response.SuccessWithMsg(c, "Email is already verified. You can log in.", nil)
		return
	}
	// 无待验证账号时返回同样的成功提示，避免暴露注册状态
	response.SuccessWithMsg(c, "If your email is pending verification, a new verification email has been sent.", nil)
}

// LoginRequest 登录请求（identifier 可为邮箱或用户名）
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Password   string `json:"password" binding:"required"`
}

// Login 登录
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid request body", err)
		return
	}

	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Email)
	}
	if identifier == "" {
		respondError(c, response.CodeBadRequest, "email or username is required", nil)
		return
	}

	user, token, expiresAt, err := h.AccountService.Login(identifier, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			respondError(c, response.CodeUnauthorized, "Invalid email or password.", nil)
		case errors.Is(err, service.ErrEmailNotVerified):
			response.ErrorWithData(c, response.CodeForbidden, "Please verify your email before logging in.", gin.H{
				"unverified": true,
				"email":      user.Email,
				"can_resend": true,
			})
		default:
			respondError(c, response.CodeInternal, "login failed", err)
		}
		return
	}

	response.Success(c, gin.H{
		"user":       userView(user),
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
}

// ForgotPasswordRequest 忘记密码请求
type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

// ForgotPassword 发起重置密码流程
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid request body", err)
		return
	}

	if err := h.AccountService.ForgotPassword(req.Email); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidEmail):
			respondError(c, response.CodeBadRequest, service.ErrInvalidEmail.Error(), nil)
		case errors.Is(err, service.ErrEmailSendFailed):
			respondError(c, response.CodeInternal, "Failed to send password reset email. Please try again later.", err)
		default:
			respondError(c, response.CodeInternal, "password reset request failed", err)
		}
		return
	}

	// 无论邮箱是否注册均返回同样的提示
	response.SuccessWithMsg(c, "If an account with that email exists, a password reset link has been sent.", nil)
}

// VerifyResetToken 校验重置令牌
func (h *Handler) VerifyResetToken(c *gin.Context) {
	email, err := h.AccountService.VerifyResetToken(c.Param("token"))
	if err != nil {
		if errors.Is(err, service.ErrResetTokenInvalid) {
			respondError(c, response.CodeBadRequest, "Invalid or expired reset token.", nil)
			return
		}
		respondError(c, response.CodeInternal, "reset token verification failed", err)
		return
	}
	response.Success(c, gin.H{"email": email})
}

// ResetPasswordRequest 重置密码请求
type ResetPasswordRequest struct {
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// ResetPassword 使用重置令牌设置新密码
func (h *Handler) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid request body", err)
		return
	}
	if req.Password != req.ConfirmPassword {
		respondError(c, response.CodeBadRequest, service.ErrPasswordMismatch.Error(), nil)
		return
	}

	user, token, expiresAt, err := h.AccountService.ResetPassword(c.Param("token"), req.Password)
	if err != nil {
		respondResetPasswordError(c, err)
		return
	}

	response.SuccessWithMsg(c, "Password has been reset successfully.", gin.H{
		"user":       userView(user),
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
}

// Me 获取当前登录用户信息
func (h *Handler) Me(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	user, err := h.AccountService.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			respondError(c, response.CodeNotFound, "user not found", nil)
			return
		}
		respondError(c, response.CodeInternal, "fetch user failed", err)
		return
	}
	response.Success(c, gin.H{"user": userView(user)})
}

// GetUser 根据 ID 获取用户公开信息
func (h *Handler) GetUser(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, response.CodeBadRequest, "invalid user id", nil)
		return
	}

	user, err := h.AccountService.GetUserByID(uint(id))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			respondError(c, response.CodeNotFound, "user not found", nil)
			return
		}
		respondError(c, response.CodeInternal, "fetch user failed", err)
		return
	}
	response.Success(c, gin.H{"user": userView(user)})
}

func userView(user *models.User) gin.H {
	return gin.H{
		"id":                user.ID,
		"username":          user.Username,
		"email":             user.Email,
		"full_name":         user.FullName,
		"status":            user.Status,
		"email_verified_at": user.EmailVerifiedAt,
		"created_at":        user.CreatedAt,
	}
}

// wantsHTMLRedirect 浏览器直接点击邮件链接时跳转到前端页面
func wantsHTMLRedirect(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/html")
}

func (h *Handler) clientRedirectURL(path string, query url.Values) string {
	base := strings.TrimRight(strings.TrimSpace(h.Config.Auth.ClientURL), "/")
	target := base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}
