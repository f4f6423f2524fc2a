package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/rajasatyajit/storeforge/internal/errors"
	"github.com/rajasatyajit/storeforge/internal/quota"
)

// ErrNoCredentials means the request carried nothing a resolver recognises.
var ErrNoCredentials = fmt.Errorf("%w: no credentials presented", apperrors.ErrUnauthenticated)

// Resolver turns request credentials into an identity. A resolver that finds
// none of its credentials returns ErrNoCredentials so the next one can try.
type Resolver interface {
	Resolve(r *http.Request) (*quota.Identity, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(r *http.Request) (*quota.Identity, error)

func (f ResolverFunc) Resolve(r *http.Request) (*quota.Identity, error) { return f(r) }

type chain []Resolver

// Chain tries resolvers in order; the first success wins. When every
// resolver fails, the first error other than ErrNoCredentials is returned.
func Chain(resolvers ...Resolver) Resolver {
	var c chain
	for _, r := range resolvers {
		if r != nil {
			c = append(c, r)
		}
	}
	return c
}

func (c chain) Resolve(r *http.Request) (*quota.Identity, error) {
	var firstErr error
	for _, res := range c {
		id, err := res.Resolve(r)
		if err == nil && id != nil && id.UserID != "" {
			return id, nil
		}
		if err != nil && !errors.Is(err, ErrNoCredentials) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, ErrNoCredentials
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func invalid(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: invalid %s", apperrors.ErrUnauthenticated, what)
	}
	return fmt.Errorf("%w: invalid %s: %v", apperrors.ErrUnauthenticated, what, err)
}
