package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"supportmesh/internal/domain"
)

// OperatorInfo holds metadata about an authenticated operator dashboard.
type OperatorInfo struct {
	Name string
}

// Authenticator validates operator socket connections.
type Authenticator interface {
	Authenticate(token string) (*OperatorInfo, error)
}

// TokenEntry is one accepted operator token.
type TokenEntry struct {
	Token string
	Name  string
}

type authEntry struct {
	token []byte
	info  *OperatorInfo
}

// StaticTokenAuth authenticates operators against a static token list
// using constant-time comparison.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from a set of token entries.
func NewStaticTokenAuth(entries []TokenEntry) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, len(entries))}
	for i, e := range entries {
		a.entries[i] = authEntry{
			token: []byte(e.Token),
			info:  &OperatorInfo{Name: e.Name},
		}
	}
	return a
}

// Authenticate returns operator info if the token is valid. Every entry is
// compared so timing does not reveal which one matched.
func (s *StaticTokenAuth) Authenticate(token string) (*OperatorInfo, error) {
	tokenBytes := []byte(token)
	var found *OperatorInfo
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 && found == nil {
			found = e.info
		}
	}
	if found == nil || token == "" {
		return nil, domain.ErrGatewayAuthFailed
	}
	return found, nil
}

// requestToken reads the token from the query string or a Bearer header.
// Browsers cannot set headers on websocket upgrades, hence the query form.
func requestToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
	}
	return ""
}
