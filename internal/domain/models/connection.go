package models

import "time"

// Role identifies the kind of client behind a connection.
type Role string

const (
	RoleUnspecified Role = "unspecified"
	RoleDashboard   Role = "dashboard"
	RoleMobile      Role = "mobile"
	RoleAdmin       Role = "admin"
	RoleBridge      Role = "bridge"
)

// ParseRole maps a client-supplied type string to a Role.
// Unknown values fall back to RoleUnspecified.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleDashboard, RoleMobile, RoleAdmin, RoleBridge:
		return Role(s)
	}
	return RoleUnspecified
}

// ConnectionInfo is the registry's view of one client connection.
type ConnectionInfo struct {
	ID           string    `json:"client_id"`
	Role         Role      `json:"role"`
	RemoteAddr   string    `json:"remote_addr,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastSeen     time.Time `json:"last_seen"`
	MessageCount int64     `json:"message_count"`
}
