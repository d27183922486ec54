package shared

import "github.com/google/uuid"

// Identity is the verified caller as supplied by the authentication layer
type Identity struct {
	AccountID uuid.UUID
	Role      Role
}

// SystemIdentity attributes writes made by the services themselves, such as bootstrap
var SystemIdentity = Identity{Role: RoleAdmin}

// Actor is the audit name recorded for writes made by this identity
func (i Identity) Actor() string {
	if i.AccountID == uuid.Nil {
		return "system"
	}
	return i.AccountID.String()
}
