// Package credential holds the session's bearer token in local storage and
// answers whether it looks usable.
//
// Expiry inspection is local and unverified: the token is parsed without
// signature checking purely to read its exp claim early, the server remains
// the authority and will reject a bad token with a 401 regardless.
package credential

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shulesync/shulesync.go/pkg/localstore"
)

// ErrNoToken means no credential is stored; the caller redirects to login.
var ErrNoToken = errors.New("no stored credential")

const storageKey = "token"

// Store reads and writes the bearer token.
type Store struct {
	ls localstore.Store
}

func NewStore(ls localstore.Store) *Store {
	return &Store{ls: ls}
}

// Token returns the stored bearer token, or ErrNoToken.
func (s *Store) Token() (string, error) {
	tok, ok, err := s.ls.GetItem(storageKey)
	if err != nil {
		return "", err
	}
	if !ok || tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

func (s *Store) SetToken(token string) error {
	return s.ls.SetItem(storageKey, token)
}

// Clear drops the credential, as the global auth handler does before
// redirecting to login.
func (s *Store) Clear() error {
	return s.ls.RemoveItem(storageKey)
}

// ExpiresAt reads the exp claim from the stored token without verifying the
// signature. ok is false when there is no token, the token is not a JWT, or
// it carries no exp claim.
func (s *Store) ExpiresAt() (t time.Time, ok bool) {
	tok, err := s.Token()
	if err != nil {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Expired reports whether the stored token has a past exp claim. A missing
// or opaque token is not "expired"; the server decides about those.
func (s *Store) Expired() bool {
	exp, ok := s.ExpiresAt()
	return ok && exp.Before(time.Now())
}
