package identity

import (
	"fmt"
	"strings"
)

// Validate enforces a conservative charset so an identity is always a single,
// traversal-free path component.
func Validate(id Identity) error {
	raw := string(id)
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: identity required", ErrInvalidIdentity)
	}
	if len(raw) > MaxLength {
		return fmt.Errorf("%w: identity longer than %d bytes", ErrInvalidIdentity, MaxLength)
	}
	if raw == AnonymousPrefix {
		return fmt.Errorf("%w: empty anonymous identity", ErrInvalidIdentity)
	}
	for _, r := range raw {
		if r != '-' && r != '_' && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return fmt.Errorf("%w: unsafe character %q", ErrInvalidIdentity, r)
		}
	}
	return nil
}

// Parse trims and validates a raw identity token.
func Parse(raw string) (Identity, error) {
	id := Identity(strings.TrimSpace(raw))
	if err := Validate(id); err != nil {
		return "", err
	}
	return id, nil
}
