package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/campaign-billing-ledger/internal/domain/shared"
)

const (
	// AccountIDHeader carries the authenticated account, set by the upstream auth layer
	AccountIDHeader = "X-Account-ID"
	// RoleHeader carries the authenticated role
	RoleHeader = "X-Account-Role"

	identityKey = "identity"
)

// Identity reads the caller asserted by the authentication layer. Requests without a valid
// account and role are rejected with 401.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, err := uuid.Parse(c.GetHeader(AccountIDHeader))
		if err != nil || accountID == uuid.Nil {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid "+AccountIDHeader)
			return
		}

		role := shared.Role(c.GetHeader(RoleHeader))
		if role == "" {
			role = shared.RoleUser
		}
		if !role.Valid() {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unknown role")
			return
		}

		c.Set(identityKey, shared.Identity{AccountID: accountID, Role: role})
		c.Next()
	}
}

// RequireAdmin rejects non-privileged callers with 403. Mount after Identity.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
			return
		}
		if !identity.Role.Privileged() {
			abort(c, http.StatusForbidden, "FORBIDDEN", "Operation requires a privileged role")
			return
		}
		c.Next()
	}
}

// GetIdentity returns the caller set by Identity
func GetIdentity(c *gin.Context) (shared.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return shared.Identity{}, false
	}
	identity, ok := v.(shared.Identity)
	return identity, ok
}

func abort(c *gin.Context, status int, code, message string) {
	body := gin.H{"error": gin.H{"code": code, "message": message}}
	if id := GetCorrelationID(c); id != "" {
		body["correlation_id"] = id
	}
	c.AbortWithStatusJSON(status, body)
}
