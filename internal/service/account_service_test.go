package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/blazetrade/blazetrade-api/internal/config"
	"github.com/blazetrade/blazetrade-api/internal/constants"
	"github.com/blazetrade/blazetrade-api/internal/models"
	"github.com/blazetrade/blazetrade-api/internal/repository"
	"github.com/blazetrade/blazetrade-api/internal/token"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type mailRecord struct {
	kind     string
	toEmail  string
	rawToken string
}

type stubMailer struct {
	failNext bool
	sent     []mailRecord
}

func (m *stubMailer) send(kind, toEmail, rawToken string) error {
	if m.failNext {
		m.failNext = false
		return errors.New("smtp unreachable")
	}
	m.sent = append(m.sent, mailRecord{kind: kind, toEmail: toEmail, rawToken: rawToken})
	return nil
}

func (m *stubMailer) SendVerificationEmail(toEmail, username, rawToken string) error {
	return m.send("verification", toEmail, rawToken)
}

func (m *stubMailer) SendWelcomeEmail(toEmail, username string) error {
	return m.send("welcome", toEmail, "")
}

func (m *stubMailer) SendPasswordResetEmail(toEmail, username, rawToken string) error {
	return m.send("password_reset", toEmail, rawToken)
}

func (m *stubMailer) last(t *testing.T) mailRecord {
	t.Helper()
	if len(m.sent) == 0 {
		t.Fatalf("no email was sent")
	}
	return m.sent[len(m.sent)-1]
}

func setupAccountServiceTest(t *testing.T) (*AccountService, *stubMailer, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:account_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	cfg := &config.Config{}
	cfg.UserJWT.SecretKey = "account-service-test-secret"
	cfg.UserJWT.ExpireHours = 24
	cfg.Security.PasswordPolicy.MinLength = 6
	cfg.Auth.VerifyTokenExpireHours = 24
	cfg.Auth.ResetTokenExpireMinutes = 60
	cfg.Auth.ResendCooldownSeconds = 120

	mailer := &stubMailer{}
	svc := NewAccountService(cfg, repository.NewUserRepository(db), NewAuthService(cfg), mailer, nil)
	return svc, mailer, db
}

func signupInput(username, email string) SignupInput {
	return SignupInput{
		Username:        username,
		Email:           email,
		Password:        "secret123",
		ConfirmPassword: "secret123",
		FullName:        "Test Trader",
		TermsAccepted:   true,
	}
}

func TestSignupCreatesPendingAndSendsVerification(t *testing.T) {
	svc, mailer, db := setupAccountServiceTest(t)

	user, err := svc.Signup(signupInput("trader", "Trader@Example.COM"))
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	if user.Email != "trader@example.com" {
		t.Fatalf("email should be normalized, got %s", user.Email)
	}
	if user.Status != constants.UserStatusPending {
		t.Fatalf("status want pending got %s", user.Status)
	}
	if user.PasswordHash == "secret123" {
		t.Fatalf("password must not be stored in plaintext")
	}

	sent := mailer.last(t)
	if sent.kind != "verification" || sent.toEmail != "trader@example.com" {
		t.Fatalf("unexpected email: %+v", sent)
	}
	if sent.rawToken == "" {
		t.Fatalf("verification email should carry the raw token")
	}

	var stored models.User
	if err := db.First(&stored, user.ID).Error; err != nil {
		t.Fatalf("load stored user failed: %v", err)
	}
	if stored.VerifyTokenHash == nil {
		t.Fatalf("verify token hash should be persisted")
	}
	if *stored.VerifyTokenHash == sent.rawToken {
		t.Fatalf("raw token must not be stored")
	}
	if *stored.VerifyTokenHash != token.Hash(sent.rawToken) {
		t.Fatalf("stored hash should match sha256 of the raw token")
	}
}

func TestSignupStripsEmailDisplayName(t *testing.T) {
	svc, mailer, _ := setupAccountServiceTest(t)

	user, err := svc.Signup(signupInput("trader", "Trader Bob <bob@example.com>"))
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	if user.Email != "bob@example.com" {
		t.Fatalf("display name should be stripped, got %q", user.Email)
	}
	if sent := mailer.last(t); sent.toEmail != "bob@example.com" {
		t.Fatalf("email should go to the bare address, got %q", sent.toEmail)
	}

	// 裸地址与带显示名的写法属于同一身份
	if _, err := svc.Signup(signupInput("other", "bob@example.com")); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("bare address want ErrAccountExists got %v", err)
	}
}

func TestSignupValidation(t *testing.T) {
	svc, _, _ := setupAccountServiceTest(t)

	cases := []struct {
		name    string
		mutate  func(*SignupInput)
		wantErr error
	}{
		{"terms_not_accepted", func(in *SignupInput) { in.TermsAccepted = false }, ErrTermsRequired},
		{"blank_username", func(in *SignupInput) { in.Username = "   " }, ErrUsernameRequired},
		{"bad_email", func(in *SignupInput) { in.Email = "not-an-email" }, ErrInvalidEmail},
		{"weak_password", func(in *SignupInput) { in.Password = "abc"; in.ConfirmPassword = "abc" }, ErrWeakPassword},
		{"password_mismatch", func(in *SignupInput) { in.ConfirmPassword = "secret124" }, ErrPasswordMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := signupInput("trader", "trader@example.com")
			tc.mutate(&in)
			if _, err := svc.Signup(in); !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSignupDuplicate(t *testing.T) {
	svc, _, _ := setupAccountServiceTest(t)

	if _, err := svc.Signup(signupInput("trader", "trader@example.com")); err != nil {
		t.Fatalf("first signup failed: %v", err)
	}
	if _, err := svc.Signup(signupInput("other", "trader@example.com")); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("duplicate email want ErrAccountExists got %v", err)
	}
	if _, err := svc.Signup(signupInput("trader", "other@example.com")); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("duplicate username want ErrAccountExists got %v", err)
	}
}

func TestSignupSurvivesEmailFailure(t *testing.T) {
	svc, mailer, _ := setupAccountServiceTest(t)
	mailer.failNext = true

	user, err := svc.Signup(signupInput("trader", "trader@example.com"))
	if err != nil {
		t.Fatalf("signup should not fail when the email cannot be sent: %v", err)
	}
	if user.ID == 0 {
		t.Fatalf("user should be persisted despite email failure")
	}
}

func TestVerifyEmailPromotesAccount(t *testing.T) {
	svc, mailer, db := setupAccountServiceTest(t)

	if _, err := svc.Signup(signupInput("trader", "trader@example.com")); err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	rawToken := mailer.last(t).rawToken

	user, jwtToken, expiresAt, err := svc.VerifyEmail(rawToken)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if user.Status != constants.UserStatusActive {
		t.Fatalf("status want active got %s", user.Status)
	}
	if user.EmailVerifiedAt == nil {
		t.Fatalf("email_verified_at should be set")
	}
	if jwtToken == "" || !expiresAt.After(time.Now()) {
		t.Fatalf("verify should issue a valid session token")
	}
	if welcome := mailer.last(t); welcome.kind != "welcome" {
		t.Fatalf("welcome email expected after verification, got %s", welcome.kind)
	}

	var stored models.User
	if err := db.First(&stored, user.ID).Error; err != nil {
		t.Fatalf("load stored user failed: %v", err)
	}
	if stored.VerifyTokenHash != nil || stored.VerifyTokenExpires != nil {
		t.Fatalf("verify token fields should be cleared after promotion")
	}

	// 令牌一次性，重复使用失败
	if _, _, _, err := svc.VerifyEmail(rawToken); !errors.Is(err, ErrVerifyTokenInvalid) {
		t.Fatalf("replayed token want ErrVerifyTokenInvalid got %v", err)
	}
}

func TestVerifyEmailInvalidToken(t *testing.T) {
	svc, _, _ := setupAccountServiceTest(t)

	cases := []string{"", "   ", "deadbeef"}
	for _, raw := range cases {
		if _, _, _, err := svc.VerifyEmail(raw); !errors.Is(err, ErrVerifyTokenInvalid) {
			t.Fatalf("token %q want ErrVerifyTokenInvalid got %v", raw, err)
		}
	}
}

func TestVerifyEmailExpiredToken(t *testing.T) {
	svc, mailer, db := setupAccountServiceTest(t)

	if _, err := svc.Signup(signupInput("trader", "trader@example.com")); err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	rawToken := mailer.last(t).rawToken

	past := time.Now().Add(-time.Minute)
	if err := db.Model(&models.User{}).Where("email = ?", "trader@example.com").
		Update("verify_token_expires", past).Error; err != nil {
		t.Fatalf("expire token failed: %v", err)
	}

	if _, _, _, err := svc.VerifyEmail(rawToken); !errors.Is(err, ErrVerifyTokenInvalid) {
		t.Fatalf("expired token want ErrVerifyTokenInvalid got %v", err)
	}
}

func TestResendVerificationRotatesToken(t *testing.T) {
	svc, mailer, _ := setupAccountServiceTest(t)

	if _, err := svc.Signup(signupInput("trader", "trader@example.com")); err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	firstToken := mailer.last(t).rawToken

	result, err := svc.ResendVerification("trader@example.com")
	if err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	if result.AlreadyVerified || result.NoPending {
		t.Fatalf("unexpected resend result: %+v", result)
	}
	secondToken := mailer.last(t).rawToken
	if secondToken == firstToken {
		t.Fatalf("resend should rotate the verification token")
	}

	// 旧链接随轮换失效
	if _, _, _, err := svc.VerifyEmail(firstToken); !errors.Is(err, ErrVerifyTokenInvalid) {
		t.Fatalf("old token want ErrVerifyTokenInvalid got %v", err)
	}
	if _, _, _, err := svc.VerifyEmail(secondToken); err != nil {
		t.Fatalf("new token should verify: %v", err)
	}
}

func TestResendVerificationCooldown(t *testing.T) {
	svc, _, _ := setupAccountServiceTest(t)

	if _, err := svc.Signup(signupInput("trader", "trader@example.com")); err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	if _, err := svc.ResendVerification("trader@example.com"); err != nil {
		t.Fatalf("first resend failed: %v", err)
	}

	_, err := svc.ResendVerification("trader@example.com")
	cooldown, ok := AsResendCooldown(err)
	if !ok {
		t.Fatalf("second resend want cooldown error got %v", err)
	}
	if cooldown.RetryAfterSeconds <= 0 || cooldown.RetryAfterSeconds > 120 {
		t.Fatalf("retry_after_seconds out of range: %d", cooldown.RetryAfterSeconds)
	}
}

func TestResendVerificationFailureDoesNotConsumeCooldown(t *testing.T) {
	svc, mailer, db := setupAccountServiceTest(t)

	if _, err := svc.Signup(signupInput("trader", "trader@example.com")); err != nil {
		t.Fatalf("signup failed: %v", err)
	}

	mailer.failNext = true
	if _, err := svc.ResendVerification("trader@example.com"); !errors.Is(err, ErrEmailSendFailed) {
		t.Fatalf("failed send want ErrEmailSendFailed got %v", err)
	}

	var stored models.User
	if err := db.Where("email = ?", "trader@example.com").First(&stored).Error; err != nil {
		t.Fatalf("load stored user failed: %v", err)
	}
	if stored.LastResendAt != nil {
		t.Fatalf("cooldown window should be rolled back after a failed send")
	}

	// 回滚后可立即重试
	if _, err := svc.ResendVerification("trader@example.com"); err != nil {
		t.Fatalf("retry after rollback failed: %v", err)
	}
}

func TestResendVerificationOutcomes(t *testing.T) {
	svc, mailer, _ := setupAccountServiceTest(t)

	if _, err := svc.Signup(signupInput("trader", "trader@example.com")); err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	if _, _, _, err := svc.VerifyEmail(mailer.last(t).rawToken); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	result, err := svc.ResendVerification("trader@example.com")
	if err != nil {
		t.Fatalf("resend for verified account failed: %v", err)
	}
	if !result.AlreadyVerified {
		t.Fatalf("want AlreadyVerified for verified account")
	}

	result, err = svc.ResendVerification("unknown@example.com")
	if err != nil {
		t.Fatalf("resend for unknown email failed: %v", err)
	}
	if !result.NoPending {
		t.Fatalf("want NoPending for unknown email")
	}
}

func TestLogin(t *testing.T) {
	svc, mailer, _ := setupAccountServiceTest(t)

	if _, err := svc.Signup(signupInput("trader", "trader@example.com")); err != nil {
		t.Fatalf("signup failed: %v", err)
	}

	// 未验证账号凭密码正确也拒绝登录
	user, _, _, err := svc.Login("trader@example.com", "secret123")
	if !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("pending login want ErrEmailNotVerified got %v", err)
	}
	if user == nil || user.Email != "trader@example.com" {
		t.Fatalf("unverified login should still return the account for the resend hint")
	}

	// 密码错误优先于验证状态
	if _, _, _, err := svc.Login("trader@example.com", "wrongpass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("bad password want ErrInvalidCredentials got %v", err)
	}

	if _, _, _, err := svc.VerifyEmail(mailer.last(t).rawToken); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	cases := []struct {
		name       string
		identifier string
	}{
		{"by_email", "trader@example.com"},
		{"by_email_mixed_case", "Trader@Example.com"},
		{"by_username", "trader"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			user, jwtToken, expiresAt, err := svc.Login(tc.identifier, "secret123")
			if err != nil {
				t.Fatalf("login failed: %v", err)
			}
			if jwtToken == "" || !expiresAt.After(time.Now()) {
				t.Fatalf("login should issue a valid session token")
			}
			if user.LastLoginAt == nil {
				t.Fatalf("last_login_at should be updated")
			}
		})
	}

	if _, _, _, err := svc.Login("nobody@example.com", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown account want ErrInvalidCredentials got %v", err)
	}
}

func TestLoginMixedCaseUsername(t *testing.T) {
	svc, mailer, _ := setupAccountServiceTest(t)

	if _, err := svc.Signup(signupInput("Alice", "alice@example.com")); err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	if _, _, _, err := svc.VerifyEmail(mailer.last(t).rawToken); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	// 用户名按注册原样匹配，不做小写归一
	if _, _, _, err := svc.Login("Alice", "secret123"); err != nil {
		t.Fatalf("login with registered username failed: %v", err)
	}
	if _, _, _, err := svc.Login("alice", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("lowercased username want ErrInvalidCredentials got %v", err)
	}
}

func TestForgotPasswordAndReset(t *testing.T) {
	svc, mailer, _ := setupAccountServiceTest(t)

	if _, err := svc.Signup(signupInput("trader", "trader@example.com")); err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	if _, _, _, err := svc.VerifyEmail(mailer.last(t).rawToken); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	// 未注册邮箱不报错也不发信
	sentBefore := len(mailer.sent)
	if err := svc.ForgotPassword("unknown@example.com"); err != nil {
		t.Fatalf("forgot password for unknown email failed: %v", err)
	}
	if len(mailer.sent) != sentBefore {
		t.Fatalf("no email should be sent for unknown addresses")
	}

	if err := svc.ForgotPassword("trader@example.com"); err != nil {
		t.Fatalf("forgot password failed: %v", err)
	}
	reset := mailer.last(t)
	if reset.kind != "password_reset" || reset.rawToken == "" {
		t.Fatalf("unexpected reset email: %+v", reset)
	}

	email, err := svc.VerifyResetToken(reset.rawToken)
	if err != nil {
		t.Fatalf("verify reset token failed: %v", err)
	}
	if email != "trader@example.com" {
		t.Fatalf("reset token email want trader@example.com got %s", email)
	}

	user, jwtToken, _, err := svc.ResetPassword(reset.rawToken, "newsecret123")
	if err != nil {
		t.Fatalf("reset password failed: %v", err)
	}
	if jwtToken == "" {
		t.Fatalf("reset should issue a fresh session token")
	}
	if user.TokenVersion == 0 {
		t.Fatalf("token version should be bumped to revoke old sessions")
	}

	// 令牌一次性
	if _, _, _, err := svc.ResetPassword(reset.rawToken, "another123"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("replayed reset token want ErrResetTokenInvalid got %v", err)
	}

	// 旧密码失效，新密码可登录
	if _, _, _, err := svc.Login("trader@example.com", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should be rejected")
	}
	if _, _, _, err := svc.Login("trader@example.com", "newsecret123"); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}
}

func TestForgotPasswordSendFailureClearsToken(t *testing.T) {
	svc, mailer, db := setupAccountServiceTest(t)

	if _, err := svc.Signup(signupInput("trader", "trader@example.com")); err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	if _, _, _, err := svc.VerifyEmail(mailer.last(t).rawToken); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	mailer.failNext = true
	if err := svc.ForgotPassword("trader@example.com"); !errors.Is(err, ErrEmailSendFailed) {
		t.Fatalf("failed send want ErrEmailSendFailed got %v", err)
	}

	var stored models.User
	if err := db.Where("email = ?", "trader@example.com").First(&stored).Error; err != nil {
		t.Fatalf("load stored user failed: %v", err)
	}
	if stored.ResetTokenHash != nil || stored.ResetTokenExpires != nil {
		t.Fatalf("reset token should be cleared when the email cannot be sent")
	}
}

func TestResetPasswordExpiredToken(t *testing.T) {
	svc, mailer, db := setupAccountServiceTest(t)

	if _, err := svc.Signup(signupInput("trader", "trader@example.com")); err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	if _, _, _, err := svc.VerifyEmail(mailer.last(t).rawToken); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if err := svc.ForgotPassword("trader@example.com"); err != nil {
		t.Fatalf("forgot password failed: %v", err)
	}
	rawToken := mailer.last(t).rawToken

	past := time.Now().Add(-time.Minute)
	if err := db.Model(&models.User{}).Where("email = ?", "trader@example.com").
		Update("reset_token_expires", past).Error; err != nil {
		t.Fatalf("expire reset token failed: %v", err)
	}

	if _, err := svc.VerifyResetToken(rawToken); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expired reset token want ErrResetTokenInvalid on verify")
	}
	if _, _, _, err := svc.ResetPassword(rawToken, "newsecret123"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expired reset token want ErrResetTokenInvalid on reset")
	}
}

func TestGetUserByID(t *testing.T) {
	svc, _, _ := setupAccountServiceTest(t)

	created, err := svc.Signup(signupInput("trader", "trader@example.com"))
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}

	user, err := svc.GetUserByID(created.ID)
	if err != nil {
		t.Fatalf("get user failed: %v", err)
	}
	if user.Username != "trader" {
		t.Fatalf("username want trader got %s", user.Username)
	}

	if _, err := svc.GetUserByID(9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id want ErrNotFound got %v", err)
	}
	if _, err := svc.GetUserByID(0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("zero id want ErrNotFound got %v", err)
	}
}
