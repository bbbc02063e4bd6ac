// Package identity provides storage identity kinds and validation helpers.
package identity

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// AnonymousPrefix marks identities minted for signed-out browser sessions.
const AnonymousPrefix = "browser-"

// MaxLength bounds an identity so it always fits a single path component.
const MaxLength = 128

// ErrInvalidIdentity is returned for missing or path-unsafe identity tokens.
var ErrInvalidIdentity = errors.New("invalid identity")

// Kind classifies an identity without an external lookup.
type Kind string

const (
	KindAnonymous     Kind = "anonymous"
	KindAuthenticated Kind = "authenticated"
)

// Identity is the opaque key of one user's storage namespace.
type Identity string

// Kind reports whether the identity is anonymous or authenticated.
func (id Identity) Kind() Kind {
	if strings.HasPrefix(string(id), AnonymousPrefix) {
		return KindAnonymous
	}
	return KindAuthenticated
}

// IsAnonymous is shorthand for Kind() == KindAnonymous.
func (id Identity) IsAnonymous() bool {
	return id.Kind() == KindAnonymous
}

func (id Identity) String() string {
	return string(id)
}

// NewAnonymous mints a fresh anonymous identity.
func NewAnonymous() Identity {
	return Identity(AnonymousPrefix + strings.ReplaceAll(uuid.NewString(), "-", ""))
}
