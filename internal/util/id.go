package util

import "github.com/google/uuid"

// NewID returns a random UUID, the id space shared by seeds, forks and users.
func NewID() string {
	return uuid.NewString()
}

// NewToken returns an opaque token, optionally prefixed.
func NewToken(prefix string) string {
	token := uuid.NewString() + uuid.NewString()
	if prefix == "" {
		return token
	}
	return prefix + "_" + token
}

// ValidID reports whether value is a well-formed id.
func ValidID(value string) bool {
	return uuid.Validate(value) == nil
}
