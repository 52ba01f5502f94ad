package middleware

import (
	"strings"

	"github.com/flowra/backend/internal/utils"
	"github.com/flowra/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

const (
	ContextUserID = "user_id"
	ContextEmail  = "email"
	ContextName   = "name"
)

// AuthRequired checks for a valid Bearer token and stores the caller in the context.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "로그인이 필요합니다")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			response.Unauthorized(c, "잘못된 인증 헤더 형식입니다")
			c.Abort()
			return
		}

		if !setClaims(c, parts[1]) {
			return
		}
		c.Next()
	}
}

// QueryTokenAuth accepts the token from the "token" query parameter, falling back
// to the Authorization header. EventSource clients cannot set headers.
func QueryTokenAuth() gin.HandlerFunc {
	header := AuthRequired()
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			header(c)
			return
		}
		if !setClaims(c, token) {
			return
		}
		c.Next()
	}
}

func setClaims(c *gin.Context, token string) bool {
	claims, err := utils.ParseToken(token)
	if err != nil {
		response.Unauthorized(c, "유효하지 않거나 만료된 토큰입니다")
		c.Abort()
		return false
	}

	c.Set(ContextUserID, claims.UserID)
	c.Set(ContextEmail, claims.Email)
	c.Set(ContextName, claims.Name)
	return true
}

// GetUserID gets the current user ID from context
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func GetEmail(c *gin.Context) string {
	return c.GetString(ContextEmail)
}

func GetName(c *gin.Context) string {
	return c.GetString(ContextName)
}
