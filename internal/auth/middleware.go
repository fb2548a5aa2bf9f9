package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"iattend/internal/attend"
)

// UserAuth enforces bearer JWT tokens signed with HS256 and threads the
// caller identity into the request context, so every store write carries it
// for row-level authorization.
func UserAuth(signingKey, issuer string) gin.HandlerFunc {
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
		c.Set("claims", claims)
		ctx := attend.WithIdentity(c.Request.Context(), attend.Identity{
			UserID: claims.Subject,
			Token:  tokenStr,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CallerID returns the authenticated user id, or empty when unauthenticated.
func CallerID(c *gin.Context) string {
	claimsAny, ok := c.Get("claims")
	if !ok {
		return ""
	}
	claims, ok := claimsAny.(Claims)
	if !ok {
		return ""
	}
	return claims.Subject
}
