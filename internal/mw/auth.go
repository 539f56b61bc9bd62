package mw

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"agriconsult-backend/internal/appointment"
)

const (
	ctxUserID   = "userID"
	ctxUserRole = "userRole"
)

// IdentityClaims is the token payload issued by the external user directory.
type IdentityClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Auth validates the directory-issued bearer token and stores the caller's
// identity in the request context. The core trusts the directory: the id is
// treated as an opaque, existing identifier.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		claims := &IdentityClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		role, ok := appointment.ParseRole(claims.Role)
		if !ok || role == appointment.RoleSystem || claims.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token carries no usable identity"})
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxUserRole, role)
		c.Next()
	}
}

// ActorFromContext returns the authenticated caller as a state-machine actor.
func ActorFromContext(c *gin.Context) (appointment.Actor, bool) {
	id, ok := c.Get(ctxUserID)
	if !ok {
		return appointment.Actor{}, false
	}
	role, ok := c.Get(ctxUserRole)
	if !ok {
		return appointment.Actor{}, false
	}
	idStr, ok1 := id.(string)
	roleVal, ok2 := role.(appointment.Role)
	if !ok1 || !ok2 {
		return appointment.Actor{}, false
	}
	return appointment.Actor{ID: idStr, Role: roleVal}, true
}

// IssueToken mints a directory-style identity token. Only tests and local
// tooling use it; production tokens come from the user directory itself.
func IssueToken(secret, userID string, role appointment.Role) (string, error) {
	claims := &IdentityClaims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
