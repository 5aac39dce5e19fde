package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"inkwell/internal/pkg/jwtutil"
	"inkwell/internal/transport/http/response"
)

const (
	ContextWorkspaceIDKey = "workspace_id"
	ContextSubjectKey     = "subject"
)

// AuthJWT accepts only bearer tokens that name a workspace; every /api route is scoped to it.
func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, 401, response.CodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, 401, response.CodeUnauthorized, "invalid authorization scheme")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, 401, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextWorkspaceIDKey, claims.WorkspaceID)
		c.Set(ContextSubjectKey, claims.Subject)
		c.Next()
	}
}

// WorkspaceID returns the workspace the request was authenticated for.
func WorkspaceID(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextWorkspaceIDKey)
	if !exists {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
