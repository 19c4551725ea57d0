package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		want     Strength
		wantErr  bool
	}{
		{password: "", wantErr: true},
		{password: "abc", wantErr: true},
		{password: "abcdef", want: StrengthWeak},
		{password: "abcDEF", want: StrengthMedium},
		{password: "abcDEF1", want: StrengthStrong},
		{password: "Abc12!", want: StrengthStrong},
	}

	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			got, err := ValidatePassword(tt.password)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr string
	}{
		{name: "valid", profile: Profile{Name: "alice_01", Email: "alice@example.com", Password: "secret1"}},
		{name: "short name", profile: Profile{Name: "al", Email: "alice@example.com", Password: "secret1"}, wantErr: "username"},
		{name: "bad email", profile: Profile{Name: "alice", Email: "alice@", Password: "secret1"}, wantErr: "email"},
		{name: "short password", profile: Profile{Name: "alice", Email: "a@b.co", Password: "123"}, wantErr: "at least 6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
