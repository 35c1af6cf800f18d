package public

import "github.com/blazetrade/blazetrade-api/internal/provider"

// Handler 公开接口处理器入口
// 说明：该处理器仅用于注册、登录、验证等用户侧 API。
type Handler struct {
	*provider.Container
}

// New 创建处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
