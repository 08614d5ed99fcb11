package chat

import (
	"net/http"
)

// Credentials are the stored secrets used to authenticate requests
type Credentials struct {
	Username string
	Password string
	APIKey   string
}

// AuthProvider returns the credentials to use for the next request
type AuthProvider func() Credentials

// StaticAuth always returns the same credentials
func StaticAuth(c Credentials) AuthProvider {
	return func() Credentials { return c }
}

// Apply sets the Authorization header. Username and password take
// precedence over an API key.
func (c Credentials) Apply(req *http.Request) {
	switch {
	case c.Username != "" && c.Password != "":
		req.SetBasicAuth(c.Username, c.Password)
	case c.APIKey != "":
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}
