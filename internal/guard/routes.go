package guard

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	gkerrors "github.com/felixgeelhaar/gatekeeper/internal/errors"
	"github.com/felixgeelhaar/gatekeeper/internal/rbac"
)

// Route binds a path pattern to its requirements. Patterns are absolute
// paths whose segments are literals, ":name" parameters, or a final "*"
// matching any remainder.
type Route struct {
	Path         string `yaml:"path"`
	Name         string `yaml:"name,omitempty"`
	Requirements `yaml:",inline"`
}

// Routes is an ordered route table plus the login location used for
// redirects.
type Routes struct {
	LoginPath string  `yaml:"login_path"`
	Routes    []Route `yaml:"routes"`
}

const defaultBase = "/chanxueyan"

// DefaultRoutes returns the built-in table: the home, Q&A and user pages
// need a session, admin pages need the admin role, login and register are
// public, and anything else falls through to a public not-found page.
func DefaultRoutes() *Routes {
	authed := Requirements{RequireAuth: true}
	admin := Requirements{RequireAuth: true, Roles: []string{string(rbac.RoleAdmin)}}
	return &Routes{
		LoginPath: defaultBase + "/auth/login",
		Routes: []Route{
			{Path: defaultBase + "/", Name: "home", Requirements: authed},
			{Path: defaultBase + "/auth/login", Name: "login"},
			{Path: defaultBase + "/auth/register", Name: "register"},
			{Path: defaultBase + "/admin", Name: "admin-dashboard", Requirements: admin},
			{Path: defaultBase + "/admin/users", Name: "admin-users", Requirements: admin},
			{Path: defaultBase + "/admin/settings", Name: "admin-settings", Requirements: admin},
			{Path: defaultBase + "/qa", Name: "qa-list", Requirements: authed},
			{Path: defaultBase + "/qa/:id", Name: "qa-detail", Requirements: authed},
			{Path: defaultBase + "/qa/post", Name: "qa-post", Requirements: authed},
			{Path: defaultBase + "/user/profile", Name: "user-profile", Requirements: authed},
			{Path: defaultBase + "/user/my-questions", Name: "user-questions", Requirements: authed},
			{Path: defaultBase + "/user/my-answers", Name: "user-answers", Requirements: authed},
			{Path: defaultBase + "/user/settings", Name: "user-settings", Requirements: authed},
			{Path: "*", Name: "not-found"},
		},
	}
}

// LoadRoutes reads a YAML route table from path.
func LoadRoutes(path string) (*Routes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gkerrors.Wrap(gkerrors.ErrCodeGuardRoutes, "read routes file", err)
	}
	return ParseRoutes(data)
}

// ParseRoutes decodes and validates a YAML route table.
func ParseRoutes(data []byte) (*Routes, error) {
	var r Routes
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, gkerrors.Wrap(gkerrors.ErrCodeGuardRoutes, "parse routes", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Marshal renders the table as YAML.
func (r *Routes) Marshal() ([]byte, error) {
	return yaml.Marshal(r)
}

// Validate checks patterns and the login path.
func (r *Routes) Validate() error {
	if !strings.HasPrefix(r.LoginPath, "/") {
		return gkerrors.New(gkerrors.ErrCodeGuardRoutes, fmt.Sprintf("login_path %q must be absolute", r.LoginPath))
	}
	seen := make(map[string]bool, len(r.Routes))
	for i, route := range r.Routes {
		if route.Path != "*" && !strings.HasPrefix(route.Path, "/") {
			return gkerrors.New(gkerrors.ErrCodeGuardRoutes, fmt.Sprintf("route %d: path %q must be absolute or \"*\"", i, route.Path))
		}
		segs := splitPath(route.Path)
		for j, seg := range segs {
			if seg == "*" && j != len(segs)-1 {
				return gkerrors.New(gkerrors.ErrCodeGuardRoutes, fmt.Sprintf("route %q: \"*\" must be the last segment", route.Path))
			}
			if seg == ":" {
				return gkerrors.New(gkerrors.ErrCodeGuardRoutes, fmt.Sprintf("route %q: unnamed parameter", route.Path))
			}
		}
		if seen[route.Path] {
			return gkerrors.New(gkerrors.ErrCodeGuardRoutes, fmt.Sprintf("duplicate route %q", route.Path))
		}
		seen[route.Path] = true
	}
	return nil
}

// Match finds the most specific route for path. Literal segments beat
// parameters, which beat the wildcard. Query strings and fragments are
// ignored.
func (r *Routes) Match(path string) (Route, map[string]string, bool) {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	target := splitPath(path)

	var (
		best      Route
		bestScore = -1
		params    map[string]string
	)
	for _, route := range r.Routes {
		score, p, ok := matchPattern(splitPath(route.Path), target)
		if ok && score > bestScore {
			best, bestScore, params = route, score, p
		}
	}
	return best, params, bestScore >= 0
}

func matchPattern(pattern, target []string) (int, map[string]string, bool) {
	score := 0
	var params map[string]string
	for i, seg := range pattern {
		if seg == "*" {
			return score + 1, params, true
		}
		if i >= len(target) {
			return 0, nil, false
		}
		switch {
		case strings.HasPrefix(seg, ":"):
			if params == nil {
				params = make(map[string]string)
			}
			params[seg[1:]] = target[i]
			score += 2
		case seg == target[i]:
			score += 3
		default:
			return 0, nil, false
		}
	}
	if len(pattern) != len(target) {
		return 0, nil, false
	}
	return score, params, true
}

// splitPath splits on "/". Leading and trailing slashes are insignificant.
func splitPath(path string) []string {
	if path == "*" {
		return []string{"*"}
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return []string{""}
	}
	return strings.Split(path, "/")
}
