package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"ticketing/internal/domain"
)

const (
	callerKey       = "caller"
	authDisabledKey = "authDisabled"
)

// Auth verifies an HS256 bearer token and stores its sub and role claims.
// With an empty secret every request passes and RequireRoles is skipped.
func Auth(secret string) gin.HandlerFunc {
	key := []byte(strings.TrimSpace(secret))
	return func(c *gin.Context) {
		if len(key) == 0 {
			c.Set(authDisabledKey, true)
			c.Next()
			return
		}

		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			abortAuth(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		raw = strings.TrimSpace(raw[len("bearer "):])

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token expired"
			}
			abortAuth(c, http.StatusUnauthorized, msg)
			return
		}

		sub, _ := claims.GetSubject()
		role, _ := claims["role"].(string)
		c.Set(callerKey, domain.RequestContext{
			Subject: sub,
			Role:    strings.ToLower(strings.TrimSpace(role)),
		})
		c.Next()
	}
}

// RequireRoles rejects callers whose role claim is not one of roles.
func RequireRoles(roles ...string) gin.HandlerFunc {
	allowed := map[string]bool{}
	for _, r := range roles {
		allowed[strings.ToLower(r)] = true
	}
	return func(c *gin.Context) {
		if c.GetBool(authDisabledKey) {
			c.Next()
			return
		}
		if !allowed[Caller(c).Role] {
			abortAuth(c, http.StatusForbidden, "role not allowed")
			return
		}
		c.Next()
	}
}

// Caller returns the authenticated token's subject and role. It is empty
// when auth is disabled or the route is public.
func Caller(c *gin.Context) domain.RequestContext {
	rc, _ := c.Get(callerKey)
	caller, _ := rc.(domain.RequestContext)
	return caller
}

func abortAuth(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":      msg,
		"code":       strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_")),
		"message":    msg,
		"request_id": GetRequestID(c),
	})
}
