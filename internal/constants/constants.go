package constants

// 用户状态常量
const (
	UserStatusPending = "pending"
	UserStatusActive  = "active"
)

// 队列常量
const (
	QueueDefault           = "default"
	QueueCritical          = "critical"
	TaskVerificationEmail  = "email:verification"
	TaskWelcomeEmail       = "email:welcome"
	TaskPasswordResetEmail = "email:password_reset"
)

// 缓存默认配置常量
const (
	RedisPrefixDefault = "bt"
)
