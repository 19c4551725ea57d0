package httpclient

import (
	"fmt"
	"net/http"
	"strings"
)

// Method is the closed set of verbs the client issues.
type Method int

const (
	MethodGet Method = iota + 1
	MethodPost
	MethodPut
	MethodPatch
	MethodDelete
)

// String returns the wire form of the method.
func (m Method) String() string {
	switch m {
	case MethodGet:
		return http.MethodGet
	case MethodPost:
		return http.MethodPost
	case MethodPut:
		return http.MethodPut
	case MethodPatch:
		return http.MethodPatch
	case MethodDelete:
		return http.MethodDelete
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// HasBody reports whether the payload travels as a JSON body. GET and DELETE
// carry it in the query string instead.
func (m Method) HasBody() bool {
	switch m {
	case MethodPost, MethodPut, MethodPatch:
		return true
	default:
		return false
	}
}

// Valid reports whether m is one of the declared methods.
func (m Method) Valid() bool {
	return m >= MethodGet && m <= MethodDelete
}

// ParseMethod maps an HTTP verb (case-insensitive) to a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case http.MethodGet:
		return MethodGet, nil
	case http.MethodPost:
		return MethodPost, nil
	case http.MethodPut:
		return MethodPut, nil
	case http.MethodPatch:
		return MethodPatch, nil
	case http.MethodDelete:
		return MethodDelete, nil
	}
	return 0, fmt.Errorf("unsupported method %q", s)
}
