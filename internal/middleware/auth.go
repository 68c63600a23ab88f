package middleware

import (
	"context"
	"errors"
	"strings"

	"integration-console/internal/model"
	"integration-console/internal/pkg/crypto"
	"integration-console/internal/pkg/response"
	"integration-console/pkg/lifecycle"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// 上下文键
const (
	ctxUserID   = "user_id"
	ctxEmail    = "email"
	ctxRole     = "role"
	ctxUser     = "user"
	ctxApiKey   = "api_key"
	headerKey   = "X-API-Key"
	bearerToken = "Bearer "
)

// AuthMiddleware JWT 认证中间件
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "缺少认证信息")
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, bearerToken) {
			response.Unauthorized(c, "认证格式错误")
			c.Abort()
			return
		}

		claims, err := crypto.ParseToken(strings.TrimPrefix(authHeader, bearerToken), secret)
		if err != nil {
			response.Unauthorized(c, "无效的认证信息")
			c.Abort()
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxEmail, claims.Email)
		c.Set(ctxRole, claims.Role)

		c.Next()
	}
}

// ActiveUserMiddleware 加载当前用户，停用或删除中的账号不能继续使用旧 Token
func ActiveUserMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var user model.User
		if err := db.WithContext(c.Request.Context()).First(&user, "id = ?", GetUserID(c)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				response.Unauthorized(c, "用户不存在")
			} else {
				response.ServerError(c, "读取用户失败")
			}
			c.Abort()
			return
		}
		if user.Status != model.UserStatusActive {
			response.Forbidden(c, "账号不可用")
			c.Abort()
			return
		}
		// 以数据库中的角色为准
		c.Set(ctxRole, string(user.Role))
		c.Set(ctxUser, &user)
		c.Next()
	}
}

// PermissionMiddleware 权限检查中间件
func PermissionMiddleware(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !model.RoleHasPermission(model.UserRole(GetUserRole(c)), permission) {
			response.Forbidden(c, "没有操作权限")
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminMiddleware 管理员权限中间件
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetUserRole(c) != string(model.RoleAdmin) {
			response.Forbidden(c, "需要管理员权限")
			c.Abort()
			return
		}
		c.Next()
	}
}

// ApiKeyAuthenticator Zapier 桥接的 Key 校验
type ApiKeyAuthenticator interface {
	Authenticate(ctx context.Context, raw string) (*model.ApiKey, error)
}

// ApiKeyMiddleware 桥接接口认证：X-API-Key 或 Bearer zk_...
func ApiKeyMiddleware(keys ApiKeyAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(headerKey)
		if raw == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, bearerToken) {
				raw = strings.TrimPrefix(auth, bearerToken)
			}
		}
		if raw == "" {
			response.Unauthorized(c, "缺少 API Key")
			c.Abort()
			return
		}

		key, err := keys.Authenticate(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil {
			if lifecycle.KindOf(err) == lifecycle.KindAuthorization {
				response.Unauthorized(c, "API Key 无效或已撤销")
			} else {
				response.FromError(c, err)
			}
			c.Abort()
			return
		}

		c.Set(ctxApiKey, key)
		c.Set(ctxUserID, key.UserID)
		c.Next()
	}
}

// RequireScope 桥接接口的权限范围检查
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := GetApiKey(c)
		if key == nil || !lifecycle.HasScope(key.Scopes, scope) {
			response.FromError(c, lifecycle.NoValidApiKey("API Key 缺少 "+scope+" 权限"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// GetUserEmail 从上下文获取用户邮箱
func GetUserEmail(c *gin.Context) string {
	return c.GetString(ctxEmail)
}

// GetUserRole 从上下文获取用户角色
func GetUserRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}

// GetUser 当前用户，需在 ActiveUserMiddleware 之后使用
func GetUser(c *gin.Context) *model.User {
	if v, ok := c.Get(ctxUser); ok {
		if u, ok := v.(*model.User); ok {
			return u
		}
	}
	return nil
}

// GetApiKey 当前桥接请求使用的 Key
func GetApiKey(c *gin.Context) *model.ApiKey {
	if v, ok := c.Get(ctxApiKey); ok {
		if k, ok := v.(*model.ApiKey); ok {
			return k
		}
	}
	return nil
}
