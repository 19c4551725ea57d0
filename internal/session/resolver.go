package session

import (
	"context"
	"strings"

	"github.com/felixgeelhaar/gatekeeper/internal/httpclient"
)

// Identity API paths.
const (
	PathLogin    = "/auth/login"
	PathRegister = "/auth/register"
	PathRefresh  = "/auth/refresh"
	PathLogout   = "/auth/logout"
	PathProfile  = "/auth/profile"
)

// Credentials is a login attempt.
type Credentials struct {
	Identifier string `json:"email"`
	Secret     string `json:"password"`
}

// Profile is a registration request.
type Profile struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Grant is a successful credential exchange.
type Grant struct {
	Token string
	User  *UserRecord
}

// CredentialResolver exchanges credentials for a Grant.
type CredentialResolver interface {
	Login(ctx context.Context, creds Credentials) (Grant, error)
	Register(ctx context.Context, profile Profile) (Grant, error)
}

// RemoteResolver talks to the identity API.
type RemoteResolver struct {
	client *httpclient.Client
}

// NewRemoteResolver creates a resolver over client.
func NewRemoteResolver(client *httpclient.Client) *RemoteResolver {
	return &RemoteResolver{client: client}
}

// Login posts {email,password} to /auth/login.
func (r *RemoteResolver) Login(ctx context.Context, creds Credentials) (Grant, error) {
	data, err := r.client.Post(ctx, PathLogin, creds, exchangeTag())
	if err != nil {
		return Grant{}, err
	}
	return grantFrom(data)
}

// Register posts the profile to /auth/register.
func (r *RemoteResolver) Register(ctx context.Context, profile Profile) (Grant, error) {
	data, err := r.client.Post(ctx, PathRegister, profile, exchangeTag())
	if err != nil {
		return Grant{}, err
	}
	return grantFrom(data)
}

func exchangeTag() httpclient.RequestOption {
	return httpclient.WithMeta(httpclient.MetaCredentialExchange, "true")
}

type grantBody struct {
	Token string      `json:"token"`
	User  *UserRecord `json:"user"`
}

// grantFrom validates a {token, user} body. A missing token or user is a
// malformed response.
func grantFrom(data any) (Grant, error) {
	var body grantBody
	if err := httpclient.Bind(data, &body); err != nil {
		return Grant{}, malformedGrant(err)
	}
	if strings.TrimSpace(body.Token) == "" || !body.User.valid() {
		return Grant{}, malformedGrant(nil)
	}
	return Grant{Token: body.Token, User: body.User}, nil
}
