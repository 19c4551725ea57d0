// Package guard decides, per navigation target, whether the current session
// may proceed. Evaluate is pure; Guard adds a route table, a live session
// source and a net/http middleware.
package guard

import (
	"github.com/felixgeelhaar/gatekeeper/internal/session"
)

// Decision is the outcome of evaluating a route's requirements.
type Decision int

const (
	// DecisionPending means the session is still being restored.
	DecisionPending Decision = iota
	DecisionAllow
	DecisionRedirectToLogin
	DecisionForbidden
)

// Hint is the rendering hint for the UI layer.
func (d Decision) Hint() string {
	switch d {
	case DecisionPending:
		return "pending"
	case DecisionAllow:
		return "allow"
	case DecisionRedirectToLogin:
		return "redirect"
	case DecisionForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

func (d Decision) String() string {
	return d.Hint()
}

// Requirements describe what a route demands of the session. Roles and
// Permissions are any-of lists; empty means unconstrained.
type Requirements struct {
	RequireAuth bool     `yaml:"require_auth" json:"require_auth"`
	Roles       []string `yaml:"roles,omitempty" json:"roles,omitempty"`
	Permissions []string `yaml:"permissions,omitempty" json:"permissions,omitempty"`
}

// Evaluate applies, in order: restoration pending, authentication, role,
// permission. The first failing check wins.
func Evaluate(req Requirements, snap session.Snapshot) Decision {
	if !snap.Phase.Settled() {
		return DecisionPending
	}
	if req.RequireAuth && !snap.IsAuthenticated() {
		return DecisionRedirectToLogin
	}
	if len(req.Roles) > 0 && !snap.HasAnyRole(req.Roles...) {
		return DecisionForbidden
	}
	if len(req.Permissions) > 0 && !snap.HasAnyPermission(req.Permissions...) {
		return DecisionForbidden
	}
	return DecisionAllow
}
