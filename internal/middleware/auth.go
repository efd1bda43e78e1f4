package middleware

import (
	"errors"
	"net/http"
	"strings"

	"bingo-service/internal/model"
	pkgAuth "bingo-service/pkg/auth"
	appErr "bingo-service/pkg/errors"
	"bingo-service/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserIDKey = "userID"
	ContextRoleKey   = "role"
)

func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abort(c, err.Error())
			return
		}

		claims, err := pkgAuth.ParseToken(token)
		if err != nil {
			abort(c, "invalid token")
			return
		}

		c.Set(ContextUserIDKey, claims.SubjectID)
		c.Set(ContextRoleKey, claims.Role)
		c.Next()
	}
}

// AdminRequired must run after AuthRequired. It screens on the token's
// role; services still check the stored role before mutating anything.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRoleKey) != model.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Body{
				Code: http.StatusForbidden,
				Msg:  appErr.ErrAdminRequired.Msg,
				Kind: string(appErr.ErrAdminRequired.Kind),
			})
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated caller set by AuthRequired.
func UserID(c *gin.Context) int64 {
	return c.GetInt64(ContextUserIDKey)
}

// BearerOrQueryToken reads the token from the Authorization header or, for
// websocket upgrades where browsers cannot set headers, the token query param.
func BearerOrQueryToken(c *gin.Context) (string, error) {
	if token := strings.TrimSpace(c.Query("token")); token != "" {
		return token, nil
	}
	return extractBearerToken(c.GetHeader("Authorization"))
}

func abort(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, response.Body{
		Code: http.StatusUnauthorized,
		Msg:  msg,
		Kind: string(appErr.KindNotAuthorized),
	})
}

func extractBearerToken(authHeader string) (string, error) {
	if strings.TrimSpace(authHeader) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}
