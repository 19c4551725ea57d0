// Package tui renders session state for the terminal and collects
// credentials through interactive forms.
package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/felixgeelhaar/gatekeeper/internal/guard"
	"github.com/felixgeelhaar/gatekeeper/internal/rbac"
	"github.com/felixgeelhaar/gatekeeper/internal/session"
)

// Styles contains lipgloss styles for terminal output
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Border  lipgloss.Style
	Header  lipgloss.Style
}

// DefaultStyles returns the default lipgloss styles
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")), // Purple
		Label: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")). // Gray
			Width(13),
		Value: lipgloss.NewStyle(),
		Success: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("46")), // Green
		Warning: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("226")), // Yellow
		Error: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196")), // Red
		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")),
	}
}

func (s Styles) row(label, value string) string {
	return s.Label.Render(label) + s.Value.Render(value)
}

// RenderStatus draws the session summary shown by `gatekeeper status`.
// The token itself is never printed, only its fingerprint.
func (s Styles) RenderStatus(snap session.Snapshot, fingerprint string) string {
	var lines []string
	lines = append(lines, s.Title.Render("Session"))

	switch {
	case snap.IsAuthenticated():
		lines = append(lines, s.row("State", s.Success.Render("authenticated")))
	case snap.Phase.Settled():
		lines = append(lines, s.row("State", s.Warning.Render("anonymous")))
	default:
		lines = append(lines, s.row("State", s.Muted.Render(snap.Phase.String())))
	}

	if snap.Status.Kind == session.StatusError {
		lines = append(lines, s.row("Last error", s.Error.Render(snap.Status.Message)))
	}

	if u := snap.User; u != nil {
		lines = append(lines,
			s.row("User", fmt.Sprintf("%s <%s>", u.Name, u.Email)),
			s.row("ID", u.ID),
			s.row("Role", fmt.Sprintf("%s (%s)", u.Role, rbac.Label(u.Role))),
		)
		perms := u.EffectivePermissions()
		sort.Strings(perms)
		if len(perms) == 0 {
			lines = append(lines, s.row("Permissions", s.Muted.Render("none")))
		} else {
			lines = append(lines, s.row("Permissions", strings.Join(perms, ", ")))
		}
	}
	if fingerprint != "" {
		lines = append(lines, s.row("Token", s.Muted.Render(fingerprint)))
	}

	return s.Border.Render(strings.Join(lines, "\n"))
}

// RenderVerdict describes a guard decision for `gatekeeper check`.
func (s Styles) RenderVerdict(v guard.Verdict, loginPath string) string {
	var decision string
	switch v.Decision {
	case guard.DecisionAllow:
		decision = s.Success.Render("allow")
	case guard.DecisionPending:
		decision = s.Muted.Render("pending")
	case guard.DecisionRedirectToLogin:
		decision = s.Warning.Render("redirect") + " " + s.Muted.Render("→ "+loginPath)
	default:
		decision = s.Error.Render("forbidden")
	}

	route := s.Muted.Render("(no matching route)")
	if v.Matched {
		route = v.Route.Path
		if v.Route.Name != "" {
			route += " " + s.Muted.Render("["+v.Route.Name+"]")
		}
	}

	lines := []string{
		s.row("Path", v.Path),
		s.row("Route", route),
		s.row("Decision", decision),
	}
	if len(v.Params) > 0 {
		keys := make([]string, 0, len(v.Params))
		for k := range v.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+v.Params[k])
		}
		lines = append(lines, s.row("Params", strings.Join(pairs, " ")))
	}
	return strings.Join(lines, "\n")
}

// RenderRoutes draws the route table.
func (s Styles) RenderRoutes(routes *guard.Routes) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(s.Muted).
		Headers("PATH", "NAME", "AUTH", "ROLES", "PERMISSIONS").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.Header.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	for _, r := range routes.Routes {
		auth := "public"
		if r.RequireAuth {
			auth = "required"
		}
		t.Row(r.Path, r.Name, auth, orDash(r.Roles), orDash(r.Permissions))
	}
	return s.row("Login path", routes.LoginPath) + "\n" + t.Render()
}

func orDash(list []string) string {
	if len(list) == 0 {
		return "-"
	}
	return strings.Join(list, ", ")
}
