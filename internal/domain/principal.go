package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies which portal a principal connected from.
type Role string

const (
	RoleCustomer     Role = "customer"
	RoleSupportAgent Role = "support_agent"
	RoleAdmin        Role = "admin"
)

// ParseRole validates a role claim from an external token. Anything
// outside the three known roles is rejected before registration.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCustomer, RoleSupportAgent, RoleAdmin:
		return Role(s), nil
	default:
		return "", ErrUnauthorizedRole
	}
}

// Principal is one connected actor. Identity (ID) is stable across
// reconnects; ConnectionID changes every time the transport reconnects.
type Principal struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	ConnectionID uuid.UUID `json:"connection_id"`
	ConnectedAt  time.Time `json:"connected_at"`
}
