package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxClaims = "recordchain_claims"

// RequireToken returns a Gin middleware that enforces a valid Bearer token
// and stores its claims on the context.
func RequireToken(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			return
		}

		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// RequireWriter returns a Gin middleware that admits only tokens whose role
// may append blocks. Chain it after RequireToken.
func RequireWriter() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch err := AuthorizeWrite(ClaimsFromCtx(c)); {
		case errors.Is(err, ErrUnauthorized):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Bearer token required"})
		case err != nil:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			c.Next()
		}
	}
}

// ClaimsFromCtx returns the verified claims, or nil if none were set.
func ClaimsFromCtx(c *gin.Context) *Claims {
	v, _ := c.Get(ctxClaims)
	claims, _ := v.(*Claims)
	return claims
}

// AuthorizeWrite returns nil when claims carry a role that may append blocks,
// ErrUnauthorized when claims is nil, and a wrapped ErrForbidden otherwise.
func AuthorizeWrite(claims *Claims) error {
	if claims == nil {
		return ErrUnauthorized
	}
	if !claims.Role.CanWrite() {
		return fmt.Errorf("%w: role %q may not write to the ledger", ErrForbidden, claims.Role)
	}
	return nil
}

// CanRead reports whether claims may read records of patientID. Patients may
// read only their own; writers may read all.
func CanRead(claims *Claims, patientID string) bool {
	if claims == nil {
		return false
	}
	if claims.Role.CanWrite() {
		return true
	}
	return claims.Role == RolePatient && claims.Subject == patientID
}
