package public

import (
	"errors"

	"github.com/blazetrade/blazetrade-api/internal/http/response"
	"github.com/blazetrade/blazetrade-api/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	msg    string
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackMsg string) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			msg := rule.msg
			if msg == "" {
				msg = rule.target.Error()
			}
			respondError(c, rule.code, msg, nil)
			return
		}
	}
	respondError(c, fallbackCode, fallbackMsg, err)
}

var signupErrorRules = []mappedHandlerError{
	{target: service.ErrUsernameRequired, code: response.CodeBadRequest},
	{target: service.ErrInvalidEmail, code: response.CodeBadRequest},
	{target: service.ErrAccountExists, code: response.CodeBadRequest},
	{target: service.ErrWeakPassword, code: response.CodeBadRequest},
	{target: service.ErrPasswordMismatch, code: response.CodeBadRequest},
	{target: service.ErrTermsRequired, code: response.CodeBadRequest},
}

var resetPasswordErrorRules = []mappedHandlerError{
	{target: service.ErrResetTokenInvalid, code: response.CodeBadRequest},
	{target: service.ErrWeakPassword, code: response.CodeBadRequest},
	{target: service.ErrPasswordMismatch, code: response.CodeBadRequest},
}

func respondSignupError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrWeakPassword) {
		// 密码策略错误带具体原因
		respondError(c, response.CodeBadRequest, err.Error(), nil)
		return
	}
	respondWithMappedError(c, err, signupErrorRules, response.CodeInternal, "registration failed")
}

func respondResetPasswordError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrWeakPassword) {
		respondError(c, response.CodeBadRequest, err.Error(), nil)
		return
	}
	respondWithMappedError(c, err, resetPasswordErrorRules, response.CodeInternal, "password reset failed")
}
