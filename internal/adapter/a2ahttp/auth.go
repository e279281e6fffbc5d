package a2ahttp

import "net/http"

// Authenticator attaches credentials to an outbound request.
type Authenticator interface {
	Authenticate(req *http.Request) error
}

// AuthFunc adapts a function to Authenticator.
type AuthFunc func(req *http.Request) error

// Authenticate calls f.
func (f AuthFunc) Authenticate(req *http.Request) error { return f(req) }

// BearerToken sends a static token in the Authorization header.
type BearerToken string

// Authenticate sets "Authorization: Bearer <token>". An empty token is a no-op.
func (t BearerToken) Authenticate(req *http.Request) error {
	if t != "" {
		req.Header.Set("Authorization", "Bearer "+string(t))
	}
	return nil
}

type noAuth struct{}

func (noAuth) Authenticate(*http.Request) error { return nil }
