package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kepsekreport/internal/report"
)

const claimsKey = "claims"

// PrincipalAuth enforces bearer JWT tokens signed with HS256 and stores the
// parsed claims on the request context.
func PrincipalAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Caller(c).Role != report.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

// Caller returns the authenticated claims, zero-valued for unauthenticated
// routes.
func Caller(c *gin.Context) Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{Role: report.RoleGuest}
	}
	claims, ok := v.(Claims)
	if !ok {
		return Claims{Role: report.RoleGuest}
	}
	return claims
}
