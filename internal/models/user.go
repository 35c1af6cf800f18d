package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/blazetrade/blazetrade-api/internal/constants"
)

// User 用户表（pending 为待验证账号，active 为已验证账号）
type User struct {
	ID                 uint           `gorm:"primarykey" json:"id"`                          // 主键
	Username           string         `gorm:"uniqueIndex;not null" json:"username"`          // 用户名
	Email              string         `gorm:"uniqueIndex;not null" json:"email"`             // 邮箱
	PasswordHash       string         `gorm:"not null" json:"-"`                             // 密码哈希（不返回给前端）
	FullName           string         `gorm:"default:''" json:"full_name"`                   // 姓名
	Status             string         `gorm:"index;not null;default:'pending'" json:"status"` // 账号状态 pending/active
	EmailVerifiedAt    *time.Time     `json:"email_verified_at"`                             // 邮箱验证时间
	VerifyTokenHash    *string        `gorm:"index" json:"-"`                                // 验证令牌哈希（仅存哈希）
	VerifyTokenExpires *time.Time     `json:"-"`                                             // 验证令牌过期时间
	LastResendAt       *time.Time     `json:"-"`                                             // 最近一次重发验证邮件时间
	ResetTokenHash     *string        `gorm:"index" json:"-"`                                // 重置密码令牌哈希
	ResetTokenExpires  *time.Time     `json:"-"`                                             // 重置密码令牌过期时间
	TokenVersion       uint64         `gorm:"not null;default:0" json:"-"`                   // Token 版本（用于全量失效）
	TokenInvalidBefore *time.Time     `gorm:"index" json:"-"`                                // 该时间点前签发的 Token 失效
	LastLoginAt        *time.Time     `json:"last_login_at"`                                 // 最后登录时间
	CreatedAt          time.Time      `gorm:"index" json:"created_at"`                       // 创建时间
	UpdatedAt          time.Time      `gorm:"index" json:"updated_at"`                       // 更新时间
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`                                // 软删除时间
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// IsVerified 账号是否已完成邮箱验证
func (u *User) IsVerified() bool {
	return u.Status == constants.UserStatusActive
}
