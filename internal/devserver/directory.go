package devserver

import (
	stderrors "errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/felixgeelhaar/gatekeeper/internal/rbac"
	"github.com/felixgeelhaar/gatekeeper/internal/session"
)

// Account seeds a user into the directory.
type Account struct {
	Email    string
	Password string
	Name     string
	Role     string
}

// DefaultAccounts mirrors the demo logins so the same credentials work
// against the dev server and the offline resolver.
func DefaultAccounts() []Account {
	return []Account{
		{Email: "admin@qq.com", Password: "password", Name: "Admin User", Role: string(rbac.RoleAdmin)},
		{Email: "user@example.com", Password: "password", Name: "Test User", Role: string(rbac.RoleUser)},
		{Email: "moderator@example.com", Password: "password", Name: "Moderator", Role: string(rbac.RoleModerator)},
	}
}

var (
	errEmailTaken         = stderrors.New("email already registered")
	errInvalidCredentials = stderrors.New("invalid credentials")
	errUnknownUser        = stderrors.New("unknown user")
)

type account struct {
	user session.UserRecord
	hash []byte
}

// directory is an in-memory user table keyed by lower-cased email.
type directory struct {
	cost int

	mu      sync.RWMutex
	byEmail map[string]*account
	byID    map[string]*account
}

func newDirectory(cost int) *directory {
	return &directory{
		cost:    cost,
		byEmail: make(map[string]*account),
		byID:    make(map[string]*account),
	}
}

func (d *directory) add(a Account) (*account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(a.Password), d.cost)
	if err != nil {
		return nil, err
	}
	key := strings.ToLower(strings.TrimSpace(a.Email))

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byEmail[key]; ok {
		return nil, errEmailTaken
	}
	acct := &account{
		user: session.UserRecord{
			ID:          a.Role + "-" + uuid.NewString(),
			Name:        a.Name,
			Email:       strings.TrimSpace(a.Email),
			Role:        a.Role,
			Permissions: rbac.PermissionsFor(a.Role),
		},
		hash: hash,
	}
	d.byEmail[key] = acct
	d.byID[acct.user.ID] = acct
	return acct, nil
}

func (d *directory) authenticate(email, password string) (*account, error) {
	d.mu.RLock()
	acct, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	d.mu.RUnlock()
	if !ok {
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	return acct, nil
}

func (d *directory) lookup(id string) (*account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	acct, ok := d.byID[id]
	if !ok {
		return nil, errUnknownUser
	}
	return acct, nil
}

func (d *directory) len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byEmail)
}
