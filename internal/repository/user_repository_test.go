package repository

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/blazetrade/blazetrade-api/internal/constants"
	"github.com/blazetrade/blazetrade-api/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupUserRepositoryTest(t *testing.T) (*GormUserRepository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:user_repo_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return NewUserRepository(db), db
}

func pendingUser(email, username, tokenHash string, expires time.Time) *models.User {
	hash := tokenHash
	return &models.User{
		Username:           username,
		Email:              email,
		PasswordHash:       "hash",
		Status:             constants.UserStatusPending,
		VerifyTokenHash:    &hash,
		VerifyTokenExpires: &expires,
	}
}

func TestUserRepositoryCreateDuplicate(t *testing.T) {
	repo, _ := setupUserRepositoryTest(t)
	expires := time.Now().Add(24 * time.Hour)

	if err := repo.Create(pendingUser("alpha@example.com", "alpha", "h1", expires)); err != nil {
		t.Fatalf("create first failed: %v", err)
	}

	cases := []struct {
		name     string
		email    string
		username string
	}{
		{"same_email", "alpha@example.com", "other"},
		{"same_username", "other@example.com", "alpha"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := repo.Create(pendingUser(tc.email, tc.username, "h2", expires))
			if !errors.Is(err, ErrDuplicateKey) {
				t.Fatalf("expected ErrDuplicateKey, got %v", err)
			}
		})
	}
}

func TestUserRepositoryVerifyTokenLookupHonorsExpiry(t *testing.T) {
	repo, _ := setupUserRepositoryTest(t)
	now := time.Now()

	if err := repo.Create(pendingUser("fresh@example.com", "fresh", "fresh_hash", now.Add(time.Hour))); err != nil {
		t.Fatalf("create fresh failed: %v", err)
	}
	if err := repo.Create(pendingUser("stale@example.com", "stale", "stale_hash", now.Add(-time.Hour))); err != nil {
		t.Fatalf("create stale failed: %v", err)
	}

	got, err := repo.GetPendingByVerifyTokenHash("fresh_hash", now)
	if err != nil {
		t.Fatalf("lookup fresh failed: %v", err)
	}
	if got == nil || got.Email != "fresh@example.com" {
		t.Fatalf("expected fresh user, got %+v", got)
	}

	got, err = repo.GetPendingByVerifyTokenHash("stale_hash", now)
	if err != nil {
		t.Fatalf("lookup stale failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expired token should not resolve, got %+v", got)
	}

	got, err = repo.GetPendingByVerifyTokenHash("unknown_hash", now)
	if err != nil {
		t.Fatalf("lookup unknown failed: %v", err)
	}
	if got != nil {
		t.Fatalf("unknown token should not resolve, got %+v", got)
	}
}

func TestUserRepositoryPromote(t *testing.T) {
	repo, db := setupUserRepositoryTest(t)
	now := time.Now()

	user := pendingUser("promote@example.com", "promote", "promote_hash", now.Add(time.Hour))
	if err := repo.Create(user); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	ok, err := repo.Promote(user.ID, now)
	if err != nil {
		t.Fatalf("promote failed: %v", err)
	}
	if !ok {
		t.Fatalf("first promote should win")
	}

	var stored models.User
	if err := db.First(&stored, user.ID).Error; err != nil {
		t.Fatalf("load promoted failed: %v", err)
	}
	if stored.Status != constants.UserStatusActive {
		t.Fatalf("expected status active, got %s", stored.Status)
	}
	if stored.EmailVerifiedAt == nil {
		t.Fatalf("expected email_verified_at set")
	}
	if stored.VerifyTokenHash != nil || stored.VerifyTokenExpires != nil {
		t.Fatalf("expected verify token fields cleared")
	}

	// 第二次提升必须失败（状态已不是 pending）
	ok, err = repo.Promote(user.ID, now)
	if err != nil {
		t.Fatalf("second promote errored: %v", err)
	}
	if ok {
		t.Fatalf("second promote should lose")
	}
}

func TestUserRepositoryPromoteConcurrent(t *testing.T) {
	repo, _ := setupUserRepositoryTest(t)
	now := time.Now()

	user := pendingUser("race@example.com", "race", "race_hash", now.Add(time.Hour))
	if err := repo.Create(user); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	wins := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Promote(user.ID, time.Now())
			if err != nil {
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %d", won)
	}
}

func TestUserRepositoryRotateAndRollbackResend(t *testing.T) {
	repo, db := setupUserRepositoryTest(t)
	now := time.Now().UTC().Truncate(time.Second)

	user := pendingUser("resend@example.com", "resend", "old_hash", now.Add(time.Hour))
	if err := repo.Create(user); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	newExpiry := now.Add(24 * time.Hour)
	if err := repo.RotateVerifyToken(user.ID, "new_hash", newExpiry, now); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}

	var stored models.User
	if err := db.First(&stored, user.ID).Error; err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if stored.VerifyTokenHash == nil || *stored.VerifyTokenHash != "new_hash" {
		t.Fatalf("expected rotated hash, got %+v", stored.VerifyTokenHash)
	}
	if stored.LastResendAt == nil {
		t.Fatalf("expected last_resend_at set")
	}

	// 旧令牌在轮换后不可再解析
	got, err := repo.GetPendingByVerifyTokenHash("old_hash", now)
	if err != nil {
		t.Fatalf("lookup old failed: %v", err)
	}
	if got != nil {
		t.Fatalf("rotated-out token should not resolve")
	}

	if err := repo.RollbackLastResend(user.ID, nil); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	// 重新扫描 NULL 列时 GORM 不会清空已填充的指针字段，需用新结构体装载
	var reloaded models.User
	if err := db.First(&reloaded, user.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.LastResendAt != nil {
		t.Fatalf("expected last_resend_at rolled back to nil, got %v", reloaded.LastResendAt)
	}
}

func TestUserRepositoryResetTokenLifecycle(t *testing.T) {
	repo, db := setupUserRepositoryTest(t)
	now := time.Now()

	user := &models.User{
		Username:     "resetter",
		Email:        "reset@example.com",
		PasswordHash: "old_hash",
		Status:       constants.UserStatusActive,
	}
	if err := repo.Create(user); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := repo.SetResetToken(user.ID, "reset_hash", now.Add(time.Hour)); err != nil {
		t.Fatalf("set reset token failed: %v", err)
	}

	got, err := repo.GetActiveByResetTokenHash("reset_hash", now)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got == nil || got.ID != user.ID {
		t.Fatalf("expected user by reset token, got %+v", got)
	}

	if err := repo.UpdateCredentials(user.ID, "new_hash", now); err != nil {
		t.Fatalf("update credentials failed: %v", err)
	}

	var stored models.User
	if err := db.First(&stored, user.ID).Error; err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if stored.PasswordHash != "new_hash" {
		t.Fatalf("expected new password hash, got %s", stored.PasswordHash)
	}
	if stored.ResetTokenHash != nil || stored.ResetTokenExpires != nil {
		t.Fatalf("expected reset token fields cleared")
	}
	if stored.TokenVersion != user.TokenVersion+1 {
		t.Fatalf("expected token_version bumped, got %d", stored.TokenVersion)
	}
	if stored.TokenInvalidBefore == nil {
		t.Fatalf("expected token_invalid_before set")
	}

	got, err = repo.GetActiveByResetTokenHash("reset_hash", now)
	if err != nil {
		t.Fatalf("relookup failed: %v", err)
	}
	if got != nil {
		t.Fatalf("used reset token should not resolve")
	}
}

func TestUserRepositoryDeleteExpiredPending(t *testing.T) {
	repo, db := setupUserRepositoryTest(t)
	now := time.Now()

	if err := repo.Create(pendingUser("old@example.com", "old", "h_old", now.Add(-time.Minute))); err != nil {
		t.Fatalf("create expired failed: %v", err)
	}
	if err := repo.Create(pendingUser("new@example.com", "new", "h_new", now.Add(time.Hour))); err != nil {
		t.Fatalf("create fresh failed: %v", err)
	}
	active := &models.User{
		Username:     "veteran",
		Email:        "veteran@example.com",
		PasswordHash: "hash",
		Status:       constants.UserStatusActive,
	}
	if err := repo.Create(active); err != nil {
		t.Fatalf("create active failed: %v", err)
	}

	deleted, err := repo.DeleteExpiredPending(now)
	if err != nil {
		t.Fatalf("delete expired failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	var remaining int64
	if err := db.Unscoped().Model(&models.User{}).Count(&remaining).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if remaining != 2 {
		t.Fatalf("expected 2 remaining rows, got %d", remaining)
	}

	// 释放出的邮箱可以重新注册
	if err := repo.Create(pendingUser("old@example.com", "old2", "h_old2", now.Add(time.Hour))); err != nil {
		t.Fatalf("re-register released email failed: %v", err)
	}
}
