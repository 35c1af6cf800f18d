package main

import (
	"fmt"
	"time"

	"github.com/blazetrade/blazetrade-api/internal/config"
	"github.com/blazetrade/blazetrade-api/internal/constants"
	"github.com/blazetrade/blazetrade-api/internal/logger"
	"github.com/blazetrade/blazetrade-api/internal/models"
	"github.com/blazetrade/blazetrade-api/internal/service"
	"github.com/blazetrade/blazetrade-api/internal/token"
)

// 开发环境演示数据：一个已激活账号、一个待验证账号和一个已过期的待验证账号。
func main() {
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	authService := service.NewAuthService(cfg)
	passwordHash, err := authService.HashPassword("Demo123456")
	if err != nil {
		stdLog.Fatalf("Failed to hash demo password: %v", err)
	}

	now := time.Now()
	verifiedAt := now.Add(-48 * time.Hour)

	freshToken, err := token.Issue(24 * time.Hour)
	if err != nil {
		stdLog.Fatalf("Failed to issue verification token: %v", err)
	}
	staleToken, err := token.Issue(-time.Hour)
	if err != nil {
		stdLog.Fatalf("Failed to issue expired verification token: %v", err)
	}

	users := []models.User{
		{
			Username:        "demo_trader",
			Email:           "demo@blazetrade.io",
			PasswordHash:    passwordHash,
			FullName:        "Demo Trader",
			Status:          constants.UserStatusActive,
			EmailVerifiedAt: &verifiedAt,
		},
		{
			Username:           "pending_trader",
			Email:              "pending@blazetrade.io",
			PasswordHash:       passwordHash,
			FullName:           "Pending Trader",
			Status:             constants.UserStatusPending,
			VerifyTokenHash:    &freshToken.Hash,
			VerifyTokenExpires: &freshToken.ExpiresAt,
		},
		{
			Username:           "expired_trader",
			Email:              "expired@blazetrade.io",
			PasswordHash:       passwordHash,
			FullName:           "Expired Trader",
			Status:             constants.UserStatusPending,
			VerifyTokenHash:    &staleToken.Hash,
			VerifyTokenExpires: &staleToken.ExpiresAt,
		},
	}

	for i := range users {
		user := users[i]
		var existing models.User
		if err := models.DB.Where("email = ?", user.Email).First(&existing).Error; err != nil {
			if err := models.DB.Create(&user).Error; err != nil {
				stdLog.Printf("Failed to create user %s: %v", user.Email, err)
			} else {
				stdLog.Printf("Created user: %s (%s)", user.Email, user.Status)
			}
			continue
		}
		existing.PasswordHash = user.PasswordHash
		existing.Status = user.Status
		existing.EmailVerifiedAt = user.EmailVerifiedAt
		existing.VerifyTokenHash = user.VerifyTokenHash
		existing.VerifyTokenExpires = user.VerifyTokenExpires
		if err := models.DB.Save(&existing).Error; err != nil {
			stdLog.Printf("Failed to update user %s: %v", user.Email, err)
		} else {
			stdLog.Printf("Updated user: %s (%s)", user.Email, user.Status)
		}
	}

	fmt.Println("\n✅ Demo data created successfully!")
	fmt.Println("Summary:")
	fmt.Println("- demo@blazetrade.io     active, password Demo123456")
	fmt.Println("- pending@blazetrade.io  pending, verification link valid for 24h")
	fmt.Printf("  verify link: %s/verify-email/%s\n", cfg.Auth.ClientURL, freshToken.Raw)
	fmt.Println("- expired@blazetrade.io  pending, verification link already expired")
}
