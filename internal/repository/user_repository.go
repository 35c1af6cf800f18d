package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/blazetrade/blazetrade-api/internal/constants"
	"github.com/blazetrade/blazetrade-api/internal/models"

	"gorm.io/gorm"
)

// ErrDuplicateKey 唯一索引冲突（邮箱或用户名已被占用）
var ErrDuplicateKey = errors.New("repository: duplicate key")

// UserRepository 用户数据访问接口
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByIdentifier(identifier string) (*models.User, error)
	GetActiveByEmail(email string) (*models.User, error)
	GetPendingByEmail(email string) (*models.User, error)
	GetPendingByVerifyTokenHash(hash string, now time.Time) (*models.User, error)
	GetActiveByResetTokenHash(hash string, now time.Time) (*models.User, error)
	Promote(id uint, now time.Time) (bool, error)
	RotateVerifyToken(id uint, hash string, expiresAt, resendAt time.Time) error
	RollbackLastResend(id uint, prev *time.Time) error
	SetResetToken(id uint, hash string, expiresAt time.Time) error
	ClearResetToken(id uint) error
	UpdateCredentials(id uint, passwordHash string, now time.Time) error
	UpdateLastLogin(id uint, at time.Time) error
	DeleteExpiredPending(now time.Time) (int64, error)
}

// GormUserRepository GORM 实现
type GormUserRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓库
func NewUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// Create 创建用户（邮箱或用户名冲突返回 ErrDuplicateKey）
func (r *GormUserRepository) Create(user *models.User) error {
	if err := r.db.Create(user).Error; err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

// GetByID 根据 ID 获取用户
func (r *GormUserRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetByIdentifier 根据邮箱或用户名获取用户（登录双查）
func (r *GormUserRepository) GetByIdentifier(identifier string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("email = ? OR username = ?", identifier, identifier).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetActiveByEmail 根据邮箱获取已验证用户
func (r *GormUserRepository) GetActiveByEmail(email string) (*models.User, error) {
	return r.getByEmailAndStatus(email, constants.UserStatusActive)
}

// GetPendingByEmail 根据邮箱获取待验证用户
func (r *GormUserRepository) GetPendingByEmail(email string) (*models.User, error) {
	return r.getByEmailAndStatus(email, constants.UserStatusPending)
}

func (r *GormUserRepository) getByEmailAndStatus(email, status string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("email = ? AND status = ?", email, status).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetPendingByVerifyTokenHash 根据验证令牌哈希获取未过期的待验证用户
func (r *GormUserRepository) GetPendingByVerifyTokenHash(hash string, now time.Time) (*models.User, error) {
	var user models.User
	err := r.db.
		Where("verify_token_hash = ? AND status = ? AND verify_token_expires > ?",
			hash, constants.UserStatusPending, now).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetActiveByResetTokenHash 根据重置令牌哈希获取未过期的已验证用户
func (r *GormUserRepository) GetActiveByResetTokenHash(hash string, now time.Time) (*models.User, error) {
	var user models.User
	err := r.db.
		Where("reset_token_hash = ? AND status = ? AND reset_token_expires > ?",
			hash, constants.UserStatusActive, now).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// Promote 将待验证账号原子提升为已验证账号（并发竞争时只有一方成功）
func (r *GormUserRepository) Promote(id uint, now time.Time) (bool, error) {
	result := r.db.Model(&models.User{}).
		Where("id = ? AND status = ?", id, constants.UserStatusPending).
		Updates(map[string]interface{}{
			"status":               constants.UserStatusActive,
			"email_verified_at":    now,
			"verify_token_hash":    nil,
			"verify_token_expires": nil,
			"last_resend_at":       nil,
			"updated_at":           now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RotateVerifyToken 轮换验证令牌并记录重发时间（旧令牌随之失效）
func (r *GormUserRepository) RotateVerifyToken(id uint, hash string, expiresAt, resendAt time.Time) error {
	return r.db.Model(&models.User{}).
		Where("id = ? AND status = ?", id, constants.UserStatusPending).
		Updates(map[string]interface{}{
			"verify_token_hash":    hash,
			"verify_token_expires": expiresAt,
			"last_resend_at":       resendAt,
		}).Error
}

// RollbackLastResend 邮件发送失败后回滚重发时间（冷却窗口不计入失败尝试）
func (r *GormUserRepository) RollbackLastResend(id uint, prev *time.Time) error {
	// 带类型的 nil 指针不会写出 NULL，这里转成无类型值
	var value interface{}
	if prev != nil {
		value = *prev
	}
	return r.db.Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"last_resend_at": value}).Error
}

// SetResetToken 写入重置密码令牌
func (r *GormUserRepository) SetResetToken(id uint, hash string, expiresAt time.Time) error {
	return r.db.Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"reset_token_hash":    hash,
			"reset_token_expires": expiresAt,
		}).Error
}

// ClearResetToken 清除重置密码令牌
func (r *GormUserRepository) ClearResetToken(id uint) error {
	return r.db.Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"reset_token_hash":    nil,
			"reset_token_expires": nil,
		}).Error
}

// UpdateCredentials 更新密码并使既有会话全部失效
func (r *GormUserRepository) UpdateCredentials(id uint, passwordHash string, now time.Time) error {
	return r.db.Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"password_hash":        passwordHash,
			"reset_token_hash":     nil,
			"reset_token_expires":  nil,
			"token_invalid_before": now,
			"token_version":        gorm.Expr("token_version + 1"),
			"updated_at":           now,
		}).Error
}

// UpdateLastLogin 更新最后登录时间
func (r *GormUserRepository) UpdateLastLogin(id uint, at time.Time) error {
	return r.db.Model(&models.User{}).
		Where("id = ?", id).
		Update("last_login_at", at).Error
}

// DeleteExpiredPending 清理验证令牌已过期的待验证账号
func (r *GormUserRepository) DeleteExpiredPending(now time.Time) (int64, error) {
	result := r.db.Unscoped().
		Where("status = ? AND verify_token_expires <= ?", constants.UserStatusPending, now).
		Delete(&models.User{})
	return result.RowsAffected, result.Error
}

func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
