package handler

import (
	"strconv"

	"integration-console/internal/middleware"
	"integration-console/internal/model"
	"integration-console/internal/pkg/response"
	"integration-console/internal/pkg/utils"

	"github.com/gin-gonic/gin"
)

// confirmFlag 破坏性操作的确认标记，body 未确认时再看 ?confirm=true
func confirmFlag(c *gin.Context, bodyConfirm bool) bool {
	if bodyConfirm {
		return true
	}
	v, _ := strconv.ParseBool(c.Query("confirm"))
	return v
}

// canActOn 资源属于当前用户，或当前角色拥有指定权限（查看他人用 user:read，修改他人用 user:manage）
func canActOn(c *gin.Context, ownerID, permission string) bool {
	if ownerID != "" && ownerID == middleware.GetUserID(c) {
		return true
	}
	return model.RoleHasPermission(model.UserRole(middleware.GetUserRole(c)), permission)
}

// denyForeign 不属于自己的资源按不存在处理
func denyForeign(c *gin.Context, ownerID, permission string) bool {
	if canActOn(c, ownerID, permission) {
		return false
	}
	response.NotFound(c, "资源不存在")
	return true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return utils.Paginate(page, pageSize)
}

func limitParam(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}

// auditResource 告诉审计中间件新建资源的 ID
func auditResource(c *gin.Context, id string) {
	c.Set(middleware.CtxAuditResourceID, id)
}
