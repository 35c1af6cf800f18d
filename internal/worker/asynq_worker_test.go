package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/blazetrade/blazetrade-api/internal/provider"
	"github.com/blazetrade/blazetrade-api/internal/queue"

	"github.com/hibiken/asynq"
)

func verificationTask(t *testing.T, payload queue.VerificationEmailPayload) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}
	return asynq.NewTask(queue.TaskVerificationEmail, body)
}

func TestHandleVerificationEmailSkipsInvalidPayload(t *testing.T) {
	consumer := NewConsumer(&provider.Container{})

	cases := []struct {
		name    string
		payload queue.VerificationEmailPayload
	}{
		{"empty_email", queue.VerificationEmailPayload{RawToken: "tok"}},
		{"empty_token", queue.VerificationEmailPayload{Email: "a@example.com"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := consumer.handleVerificationEmail(context.Background(), verificationTask(t, tc.payload)); err != nil {
				t.Fatalf("invalid payload should be skipped, got %v", err)
			}
		})
	}
}

func TestHandleVerificationEmailMalformedPayload(t *testing.T) {
	consumer := NewConsumer(&provider.Container{})
	task := asynq.NewTask(queue.TaskVerificationEmail, []byte("{not json"))
	if err := consumer.handleVerificationEmail(context.Background(), task); err == nil {
		t.Fatalf("malformed payload should error for retry visibility")
	}
}

func TestHandleWelcomeEmailNilEmailService(t *testing.T) {
	consumer := NewConsumer(&provider.Container{})
	body, err := json.Marshal(queue.WelcomeEmailPayload{Email: "a@example.com", Username: "a"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	task := asynq.NewTask(queue.TaskWelcomeEmail, body)
	// 邮件服务未配置时任务直接完成，不进入重试
	if err := consumer.handleWelcomeEmail(context.Background(), task); err != nil {
		t.Fatalf("nil email service should not error, got %v", err)
	}
}

func TestHandlePasswordResetEmailSkipsEmptyToken(t *testing.T) {
	consumer := NewConsumer(&provider.Container{})
	body, err := json.Marshal(queue.PasswordResetEmailPayload{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	task := asynq.NewTask(queue.TaskPasswordResetEmail, body)
	if err := consumer.handlePasswordResetEmail(context.Background(), task); err != nil {
		t.Fatalf("empty token should be skipped, got %v", err)
	}
}
