package models

// Role is the role claim supplied by the identity provider.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleAudience  Role = "audience"
)

// RoleScreen identifies an unattended broadcast-screen client.
const RoleScreen Role = "screen"

// CanModerate reports whether the role may change question state.
func (r Role) CanModerate() bool { return r == RoleAdmin || r == RoleModerator }
