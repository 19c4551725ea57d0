package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotQueries(t *testing.T) {
	admin := &UserRecord{ID: "a", Role: "admin"}
	explicit := &UserRecord{ID: "u", Role: "user", Permissions: []string{"view_analytics"}}

	tests := []struct {
		name  string
		snap  Snapshot
		check func(t *testing.T, s Snapshot)
	}{
		{
			name: "anonymous has nothing",
			snap: Snapshot{Phase: PhaseAnonymous},
			check: func(t *testing.T, s Snapshot) {
				assert.False(t, s.IsAuthenticated())
				assert.False(t, s.HasRole("user"))
				assert.False(t, s.HasAnyRole("user", "admin"))
				assert.False(t, s.HasPermission("create_question"))
				assert.False(t, s.HasAnyPermission("create_question"))
				assert.Empty(t, s.UserID())
				assert.Empty(t, s.UserName())
				assert.Empty(t, s.UserRole())
			},
		},
		{
			name: "role table fallback",
			snap: Snapshot{Phase: PhaseAuthenticated, Token: "t", User: admin},
			check: func(t *testing.T, s Snapshot) {
				assert.True(t, s.IsAuthenticated())
				assert.True(t, s.HasRole("admin"))
				assert.True(t, s.HasPermission("manage_system"))
				assert.True(t, s.HasAnyPermission("nope", "view_users"))
				assert.False(t, s.HasAnyPermission())
				assert.False(t, s.HasAnyRole())
			},
		},
		{
			name: "explicit permissions replace role table",
			snap: Snapshot{Phase: PhaseAuthenticated, Token: "t", User: explicit},
			check: func(t *testing.T, s Snapshot) {
				assert.True(t, s.HasPermission("view_analytics"))
				assert.False(t, s.HasPermission("create_question"))
				assert.True(t, s.HasAnyRole("moderator", "user"))
			},
		},
		{
			name: "token without user is not authenticated",
			snap: Snapshot{Token: "t"},
			check: func(t *testing.T, s Snapshot) {
				assert.False(t, s.IsAuthenticated())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, tt.snap)
		})
	}
}

func TestEffectivePermissions(t *testing.T) {
	var none *UserRecord
	assert.Nil(t, none.EffectivePermissions())
	assert.Len(t, (&UserRecord{Role: "moderator"}).EffectivePermissions(), 7)
	assert.Equal(t, []string{"x"}, (&UserRecord{Role: "admin", Permissions: []string{"x"}}).EffectivePermissions())
}

func TestPhaseAndStatusStrings(t *testing.T) {
	assert.Equal(t, "restoring", PhaseRestoring.String())
	assert.True(t, PhaseAnonymous.Settled())
	assert.False(t, PhaseRestoring.Settled())
	assert.Equal(t, "error", Failed("x").Kind.String())
	assert.Equal(t, "x", Failed("x").Message)
}
