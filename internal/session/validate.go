package session

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

var (
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// Strength grades a password.
type Strength int

const (
	StrengthWeak Strength = iota
	StrengthMedium
	StrengthStrong
)

func (s Strength) String() string {
	switch s {
	case StrengthMedium:
		return "medium"
	case StrengthStrong:
		return "strong"
	default:
		return "weak"
	}
}

// ValidateEmail checks the address shape only.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return errors.New("enter a valid email address")
	}
	return nil
}

// ValidateUsername accepts 3-20 letters, digits or underscores.
func ValidateUsername(name string) error {
	if !usernamePattern.MatchString(name) {
		return errors.New("username must be 3-20 letters, digits or underscores")
	}
	return nil
}

// ValidatePassword enforces the minimum length and grades the rest.
func ValidatePassword(password string) (Strength, error) {
	if password == "" {
		return StrengthWeak, errors.New("password is required")
	}
	if len(password) < MinPasswordLength {
		return StrengthWeak, errors.New("password must be at least 6 characters")
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune("!@#$%^&*", r):
			special = true
		}
	}
	classes := 0
	for _, ok := range []bool{upper, lower, digit, special} {
		if ok {
			classes++
		}
	}
	switch {
	case classes < 2:
		return StrengthWeak, nil
	case classes < 3:
		return StrengthMedium, nil
	default:
		return StrengthStrong, nil
	}
}

// Validate checks a registration profile.
func (p Profile) Validate() error {
	if err := ValidateUsername(p.Name); err != nil {
		return err
	}
	if err := ValidateEmail(p.Email); err != nil {
		return err
	}
	_, err := ValidatePassword(p.Password)
	return err
}
