package tui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"

	"github.com/felixgeelhaar/gatekeeper/internal/session"
)

// LoginPrompt asks for whichever of email and password is still empty.
// Fields already supplied on the command line are not asked again.
func LoginPrompt(email, password string) (string, string, error) {
	var fields []huh.Field
	if email == "" {
		fields = append(fields, huh.NewInput().
			Title("Email").
			Placeholder("user@example.com").
			Value(&email).
			Validate(func(s string) error {
				if s == "" {
					return fmt.Errorf("email is required")
				}
				return nil
			}))
	}
	if password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&password).
			Validate(func(s string) error {
				if s == "" {
					return fmt.Errorf("password is required")
				}
				return nil
			}))
	}
	if len(fields) == 0 {
		return email, password, nil
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return "", "", fmt.Errorf("prompt failed: %w", err)
	}
	return email, password, nil
}

// RegisterPrompt completes a registration profile, validating each field
// as it is entered.
func RegisterPrompt(p session.Profile) (session.Profile, error) {
	var fields []huh.Field
	if p.Name == "" {
		fields = append(fields, huh.NewInput().
			Title("Username").
			Description("3-20 letters, digits or underscores").
			Value(&p.Name).
			Validate(session.ValidateUsername))
	}
	if p.Email == "" {
		fields = append(fields, huh.NewInput().
			Title("Email").
			Value(&p.Email).
			Validate(session.ValidateEmail))
	}
	if p.Password == "" {
		var confirm string
		fields = append(fields,
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&p.Password).
				Validate(func(s string) error {
					_, err := session.ValidatePassword(s)
					return err
				}),
			huh.NewInput().
				Title("Confirm password").
				EchoMode(huh.EchoModePassword).
				Value(&confirm).
				Validate(func(s string) error {
					if s != p.Password {
						return fmt.Errorf("passwords do not match")
					}
					return nil
				}),
		)
	}
	if len(fields) == 0 {
		return p, nil
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return session.Profile{}, fmt.Errorf("prompt failed: %w", err)
	}
	return p, nil
}

// PromptForConfirmation displays a yes/no confirmation prompt
func PromptForConfirmation(message string, defaultValue bool) (bool, error) {
	confirmed := defaultValue

	confirm := huh.NewConfirm().
		Title(message).
		Value(&confirmed)

	if err := huh.NewForm(huh.NewGroup(confirm)).Run(); err != nil {
		return false, fmt.Errorf("prompt failed: %w", err)
	}

	return confirmed, nil
}

// IsInteractive returns true if stdin is a terminal (not piped)
func IsInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// ShouldPrompt returns true if prompts should be shown based on environment
// Prompts are disabled in CI environments or when stdin is not a terminal
func ShouldPrompt() bool {
	ciEnvVars := []string{
		"CI",
		"GITHUB_ACTIONS",
		"GITLAB_CI",
		"JENKINS_URL",
		"TRAVIS",
		"CIRCLECI",
		"BUILDKITE",
	}

	for _, envVar := range ciEnvVars {
		if os.Getenv(envVar) != "" {
			return false
		}
	}

	return IsInteractive()
}
