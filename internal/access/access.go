// Package access turns resolved authentication state into authorization
// decisions. It owns the role/status enumerations, the capability mapping,
// and the single Evaluate function both route guards are built from.
package access

// Role is the coarse permission tier attached to a profile.
type Role string

const (
	RoleUser       Role = "user"
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole validates a raw role value.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleModerator, RoleAdmin, RoleSuperAdmin:
		return Role(s), true
	}
	return "", false
}

// Status is the approval status of a profile. Everything beyond login is
// gated on StatusApproved.
type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
)

// Profile is the application-owned record for an identity.
type Profile struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
	Status    Status `json:"status"`
	Role      Role   `json:"role"`
}

// Capabilities are the derived booleans the UI and guards branch on.
// They are computed in one place so the role mapping is never duplicated.
type Capabilities struct {
	IsUser        bool `json:"is_user"`
	IsModerator   bool `json:"is_moderator"`
	IsAdmin       bool `json:"is_admin"`
	IsSuperAdmin  bool `json:"is_super_admin"`
	CanModerate   bool `json:"can_moderate"`
	CanAdminister bool `json:"can_administer"`
}

// CapabilitiesFor derives capabilities from a role. An empty or unknown role
// yields the zero value (all false).
func CapabilitiesFor(role Role) Capabilities {
	return Capabilities{
		IsUser:        role == RoleUser,
		IsModerator:   role == RoleModerator,
		IsAdmin:       role == RoleAdmin,
		IsSuperAdmin:  role == RoleSuperAdmin,
		CanModerate:   role == RoleModerator || role == RoleAdmin || role == RoleSuperAdmin,
		CanAdminister: role == RoleAdmin || role == RoleSuperAdmin,
	}
}

// Resolution describes how the profile fetch for the current session
// concluded.
type Resolution int

const (
	// ResolutionPending means no fetch has completed yet.
	ResolutionPending Resolution = iota
	// ResolutionFound means a complete profile record was returned.
	ResolutionFound
	// ResolutionNotFound means the lookup completed with no record. A
	// session without a profile is an error condition, not a steady state.
	ResolutionNotFound
	// ResolutionFailed means the lookup errored or timed out.
	ResolutionFailed
)

func (r Resolution) String() string {
	switch r {
	case ResolutionFound:
		return "found"
	case ResolutionNotFound:
		return "not_found"
	case ResolutionFailed:
		return "error_fetching"
	default:
		return "pending"
	}
}

// State is the snapshot a guard evaluates: who the visitor is and how far
// their resolution got.
type State struct {
	Loading    bool
	HasSession bool
	UserID     string
	Profile    *Profile
	Resolution Resolution
}
