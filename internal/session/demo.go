package session

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	gkerrors "github.com/felixgeelhaar/gatekeeper/internal/errors"
	"github.com/felixgeelhaar/gatekeeper/internal/rbac"
)

// DemoAccount is a canned login answered without the network.
type DemoAccount struct {
	Identifier string
	Secret     string
	User       UserRecord
}

// DefaultDemoAccounts returns the built-in test accounts.
func DefaultDemoAccounts() []DemoAccount {
	return []DemoAccount{
		{
			Identifier: "admin@qq.com",
			Secret:     "password",
			User: UserRecord{
				ID:          "admin-001",
				Name:        "Admin User",
				Email:       "admin@example.com",
				Role:        string(rbac.RoleAdmin),
				Permissions: rbac.PermissionsFor(string(rbac.RoleAdmin)),
			},
		},
		{
			Identifier: "user",
			Secret:     "password",
			User: UserRecord{
				ID:          "user-001",
				Name:        "Test User",
				Email:       "user@example.com",
				Role:        string(rbac.RoleUser),
				Permissions: rbac.PermissionsFor(string(rbac.RoleUser)),
			},
		},
	}
}

// RegistrationPolicy decides the role of a locally registered user.
type RegistrationPolicy struct {
	SentinelName string
	ElevatedRole string
	BaselineRole string
}

// DefaultRegistrationPolicy grants admin to the name "admin" and user to
// everyone else.
func DefaultRegistrationPolicy() RegistrationPolicy {
	return RegistrationPolicy{
		SentinelName: "admin",
		ElevatedRole: string(rbac.RoleAdmin),
		BaselineRole: string(rbac.RoleUser),
	}
}

// RoleFor returns the role assigned to a registrant called name.
func (p RegistrationPolicy) RoleFor(name string) string {
	if p.SentinelName != "" && name == p.SentinelName {
		return p.ElevatedRole
	}
	return p.BaselineRole
}

// DemoResolver answers the canned accounts and all registrations locally.
// Logins for any other identifier go to the wrapped resolver.
type DemoResolver struct {
	next     CredentialResolver
	accounts []DemoAccount
	policy   RegistrationPolicy
	clock    clockwork.Clock
	seq      atomic.Uint64
}

// DemoOption configures a DemoResolver.
type DemoOption func(*DemoResolver)

// WithDemoAccounts replaces the canned accounts.
func WithDemoAccounts(accounts ...DemoAccount) DemoOption {
	return func(d *DemoResolver) { d.accounts = accounts }
}

// WithRegistrationPolicy replaces the registration policy.
func WithRegistrationPolicy(p RegistrationPolicy) DemoOption {
	return func(d *DemoResolver) { d.policy = p }
}

// WithDemoClock sets the clock used for token and id stamps.
func WithDemoClock(c clockwork.Clock) DemoOption {
	return func(d *DemoResolver) { d.clock = c }
}

// NewDemoResolver wraps next, which may be nil when every login is local.
func NewDemoResolver(next CredentialResolver, opts ...DemoOption) *DemoResolver {
	d := &DemoResolver{
		next:     next,
		accounts: DefaultDemoAccounts(),
		policy:   DefaultRegistrationPolicy(),
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Login implements CredentialResolver.
func (d *DemoResolver) Login(ctx context.Context, creds Credentials) (Grant, error) {
	for _, acct := range d.accounts {
		if creds.Identifier == acct.Identifier && creds.Secret == acct.Secret {
			user := acct.User
			return Grant{Token: d.token(), User: user.clone()}, nil
		}
	}
	if d.next == nil {
		return Grant{}, &AuthError{Code: gkerrors.ErrCodeSessionInvalidCredentials, Message: "invalid credentials"}
	}
	return d.next.Login(ctx, creds)
}

// Register implements CredentialResolver. Registrations never reach the
// network.
func (d *DemoResolver) Register(_ context.Context, profile Profile) (Grant, error) {
	name := strings.TrimSpace(profile.Name)
	if name == "" {
		return Grant{}, &AuthError{Code: gkerrors.ErrCodeSessionRejected, Message: "name is required"}
	}
	role := d.policy.RoleFor(name)
	user := &UserRecord{
		ID:          fmt.Sprintf("%s-%s", role, uuid.NewString()),
		Name:        name,
		Email:       profile.Email,
		Role:        role,
		Permissions: rbac.PermissionsFor(role),
	}
	return Grant{Token: d.token(), User: user}, nil
}

// token returns demo-token-<unixMillis>-<seq>; seq keeps tokens minted in
// the same millisecond distinct.
func (d *DemoResolver) token() string {
	return fmt.Sprintf("demo-token-%d-%d", d.clock.Now().UnixMilli(), d.seq.Add(1))
}
