package session

import (
	"slices"

	"github.com/felixgeelhaar/gatekeeper/internal/rbac"
)

// Phase is the lifecycle stage of a session.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseRestoring
	PhaseAuthenticated
	PhaseAnonymous
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseRestoring:
		return "restoring"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Settled reports whether the phase is past restoration.
func (p Phase) Settled() bool {
	return p == PhaseAuthenticated || p == PhaseAnonymous
}

// StatusKind is the coarse state of the last user-initiated operation.
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusLoading
	StatusError
)

func (k StatusKind) String() string {
	switch k {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Status describes the last operation. Message is set only for StatusError.
type Status struct {
	Kind    StatusKind
	Message string
}

// Idle is the resting status.
func Idle() Status { return Status{Kind: StatusIdle} }

// Loading marks an operation in flight.
func Loading() Status { return Status{Kind: StatusLoading} }

// Failed carries a display message.
func Failed(message string) Status { return Status{Kind: StatusError, Message: message} }

// UserRecord is the identity as returned by the identity API.
type UserRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// EffectivePermissions returns the explicit permission list when present,
// otherwise the permissions of the user's role.
func (u *UserRecord) EffectivePermissions() []string {
	if u == nil {
		return nil
	}
	if len(u.Permissions) > 0 {
		return slices.Clone(u.Permissions)
	}
	return rbac.PermissionsFor(u.Role)
}

func (u *UserRecord) clone() *UserRecord {
	if u == nil {
		return nil
	}
	c := *u
	c.Permissions = slices.Clone(u.Permissions)
	return &c
}

func (u *UserRecord) valid() bool {
	return u != nil && u.ID != "" && u.Role != ""
}

// Snapshot is an immutable copy of session state. User is non-nil exactly
// when Token is non-empty.
type Snapshot struct {
	Phase  Phase
	Status Status
	Token  string
	User   *UserRecord
}

// IsAuthenticated reports whether both token and user are present.
func (s Snapshot) IsAuthenticated() bool {
	return s.Token != "" && s.User != nil
}

// HasRole reports whether the user's role equals role.
func (s Snapshot) HasRole(role string) bool {
	return s.User != nil && s.User.Role == role
}

// HasAnyRole reports whether the user's role is one of roles.
func (s Snapshot) HasAnyRole(roles ...string) bool {
	return s.User != nil && slices.Contains(roles, s.User.Role)
}

// HasPermission consults the explicit permission list when non-empty,
// otherwise the role table.
func (s Snapshot) HasPermission(permission string) bool {
	if s.User == nil {
		return false
	}
	if len(s.User.Permissions) == 0 {
		return rbac.RoleGrants(s.User.Role, permission)
	}
	return slices.Contains(s.User.Permissions, permission)
}

// HasAnyPermission reports whether any of permissions is granted.
func (s Snapshot) HasAnyPermission(permissions ...string) bool {
	return slices.ContainsFunc(permissions, s.HasPermission)
}

// UserID returns the user's id or "".
func (s Snapshot) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

// UserName returns the user's display name or "".
func (s Snapshot) UserName() string {
	if s.User == nil {
		return ""
	}
	return s.User.Name
}

// UserRole returns the user's role or "".
func (s Snapshot) UserRole() string {
	if s.User == nil {
		return ""
	}
	return s.User.Role
}
