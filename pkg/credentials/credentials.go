// Package credentials holds the session material required to authorize a
// bookmarks timeline request, and the sources that supply it.
package credentials

import (
	"context"
	"net/http"
	"strings"
)

// Header names carrying the credential values on outgoing requests.
const (
	HeaderCookie        = "Cookie"
	HeaderCSRFToken     = "X-Csrf-Token"
	HeaderAuthorization = "Authorization"
)

// Credentials are the three opaque values that authorize a timeline request.
type Credentials struct {
	// SessionToken is the raw Cookie header of the logged-in session.
	SessionToken string `json:"cookie"`

	// CSRFToken is the anti-forgery token (x-csrf-token header).
	CSRFToken string `json:"csrf"`

	// AuthToken is the bearer authorization header value.
	AuthToken string `json:"auth"`
}

// Complete reports whether all three values are present and non-empty.
// A fetch must not be attempted with incomplete credentials.
func (c Credentials) Complete() bool {
	return c.SessionToken != "" && c.CSRFToken != "" && c.AuthToken != ""
}

// Apply sets the credential headers on req.
func (c Credentials) Apply(req *http.Request) {
	req.Header.Set(HeaderCookie, c.SessionToken)
	req.Header.Set(HeaderCSRFToken, c.CSRFToken)
	req.Header.Set(HeaderAuthorization, c.AuthToken)
}

// Source supplies the current credentials.
type Source interface {
	Get(ctx context.Context) (Credentials, error)
}

// StaticSource always returns the same credentials.
type StaticSource Credentials

// Get implements Source.
func (s StaticSource) Get(context.Context) (Credentials, error) {
	return Credentials(s), nil
}

// FromHeaders extracts credentials from observed request headers.
// Lookup is case-insensitive; absent headers yield empty fields.
func FromHeaders(h http.Header) Credentials {
	get := func(name string) string {
		for key, values := range h {
			if strings.EqualFold(key, name) && len(values) > 0 {
				return values[0]
			}
		}
		return ""
	}

	return Credentials{
		SessionToken: get("cookie"),
		CSRFToken:    get("x-csrf-token"),
		AuthToken:    get("authorization"),
	}
}
