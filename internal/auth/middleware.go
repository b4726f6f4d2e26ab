package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ResultKey is where GinAuth stores the *AuthResult.
const ResultKey = "auth_result"

// Middleware protects gin routes. A nil service disables it.
type Middleware struct {
	svc *Service
}

func NewMiddleware(svc *Service) *Middleware { return &Middleware{svc: svc} }

func (m *Middleware) Enabled() bool { return m != nil && m.svc != nil }

// GinAuth requires a valid bearer token.
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		tok := BearerToken(c.Request)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_required",
				"message": "Authentication required",
			})
			return
		}
		res, err := m.svc.Authenticate(tok)
		if err != nil {
			msg := "Invalid or expired token"
			if errors.Is(err, ErrTokenRevoked) {
				msg = "Session has been logged out"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": msg,
			})
			return
		}
		c.Set(ResultKey, res)
		c.Next()
	}
}

// GinRequireRole must run after GinAuth.
func (m *Middleware) GinRequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		res, ok := Result(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_required",
				"message": "Authentication required",
			})
			return
		}
		if res.Role != role && res.Role != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "permission_denied",
				"message": "Insufficient permissions",
			})
			return
		}
		c.Next()
	}
}

// Result returns what GinAuth stored.
func Result(c *gin.Context) (*AuthResult, bool) {
	v, ok := c.Get(ResultKey)
	if !ok {
		return nil, false
	}
	res, ok := v.(*AuthResult)
	return res, ok
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
