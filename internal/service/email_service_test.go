package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/blazetrade/blazetrade-api/internal/config"
)

func newEmailServiceForTest() *EmailService {
	emailCfg := &config.EmailConfig{}
	authCfg := &config.AuthConfig{ClientURL: "https://app.blazetrade.io/"}
	return NewEmailService(emailCfg, authCfg)
}

func TestBuildVerificationEmailContent(t *testing.T) {
	svc := newEmailServiceForTest()
	subject, body := svc.buildVerificationEmailContent("trader", "rawtoken123")

	if !strings.Contains(subject, "Verify") {
		t.Fatalf("subject should mention verification, got %q", subject)
	}
	if !strings.Contains(body, "Hi trader,") {
		t.Fatalf("body should greet the user, got %q", body)
	}
	if !strings.Contains(body, "https://app.blazetrade.io/verify-email/rawtoken123") {
		t.Fatalf("body should contain the verification link, got %q", body)
	}
}

func TestBuildPasswordResetEmailContent(t *testing.T) {
	svc := newEmailServiceForTest()
	_, body := svc.buildPasswordResetEmailContent("", "resettoken")

	if !strings.Contains(body, "Hi there,") {
		t.Fatalf("empty username should fall back to a generic greeting, got %q", body)
	}
	if !strings.Contains(body, "https://app.blazetrade.io/reset-password/resettoken") {
		t.Fatalf("body should contain the reset link, got %q", body)
	}
}

func TestBuildWelcomeEmailContent(t *testing.T) {
	svc := newEmailServiceForTest()
	_, body := svc.buildWelcomeEmailContent("trader")
	if !strings.Contains(body, "https://app.blazetrade.io/login") {
		t.Fatalf("body should link to the login page, got %q", body)
	}
}

func TestSendTextEmailGuards(t *testing.T) {
	cases := []struct {
		name    string
		cfg     *config.EmailConfig
		toEmail string
		wantErr error
	}{
		{
			name:    "disabled",
			cfg:     &config.EmailConfig{Enabled: false},
			toEmail: "trader@example.com",
			wantErr: ErrEmailServiceDisabled,
		},
		{
			name:    "not_configured",
			cfg:     &config.EmailConfig{Enabled: true},
			toEmail: "trader@example.com",
			wantErr: ErrEmailServiceNotConfigured,
		},
		{
			name:    "invalid_recipient",
			cfg:     &config.EmailConfig{Enabled: true, Host: "smtp.example.com", Port: 587, From: "noreply@blazetrade.io"},
			toEmail: "not-an-address",
			wantErr: ErrInvalidEmail,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewEmailService(tc.cfg, &config.AuthConfig{})
			err := svc.sendTextEmail(tc.toEmail, "subject", "body")
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v got %v", tc.wantErr, err)
			}
		})
	}
}
