package auth

import (
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/arces-wot/sepa/internal/apierror"
)

// PrincipalStore is a minimal local credential check used only to mint
// tokens for local testing and development; production deployments
// authenticate elsewhere and present this broker with an already
// signed token.
type PrincipalStore struct {
	mu    sync.RWMutex
	users map[string]storedUser
}

type storedUser struct {
	hash  string
	roles []string
}

// NewPrincipalStore builds an empty local credential store.
func NewPrincipalStore() *PrincipalStore {
	return &PrincipalStore{users: make(map[string]storedUser)}
}

// AddUser registers subject with a bcrypt-hashed password and roles,
// replacing any existing entry for the same subject.
func (s *PrincipalStore) AddUser(subject, password string, roles []string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return apierror.Auth(err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[subject] = storedUser{hash: string(hash), roles: roles}
	return nil
}

// Authenticate verifies subject/password against the stored bcrypt
// hash and returns the matching Principal.
func (s *PrincipalStore) Authenticate(subject, password string) (Principal, error) {
	s.mu.RLock()
	u, ok := s.users[subject]
	s.mu.RUnlock()
	if !ok {
		return Principal{}, apierror.Auth("unknown subject")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.hash), []byte(password)); err != nil {
		return Principal{}, apierror.Auth("invalid credentials")
	}
	return Principal{Subject: subject, Roles: u.roles}, nil
}
