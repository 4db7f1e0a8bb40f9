package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// Directory authenticates operators against a shared password and assigns
// roles from a static user mapping. Unmapped users get the default role.
type Directory struct {
	password    []byte
	roles       map[string]string
	defaultRole string
}

func NewDirectory(password string, roles map[string]string, defaultRole string) *Directory {
	cp := make(map[string]string, len(roles))
	for u, r := range roles {
		cp[u] = r
	}
	return &Directory{password: []byte(password), roles: cp, defaultRole: defaultRole}
}

// Authenticate returns the role for userID when password matches.
func (d *Directory) Authenticate(userID, password string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || len(d.password) == 0 {
		return "", ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(password), d.password) != 1 {
		return "", ErrInvalidCredentials
	}
	return d.RoleOf(userID)
}

func (d *Directory) RoleOf(userID string) (string, error) {
	if userID == "" {
		return "", ErrInvalidCredentials
	}
	if r, ok := d.roles[userID]; ok {
		return r, nil
	}
	return d.defaultRole, nil
}
