package queue

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

// LocalPrefix marks locally issued confirmation numbers so they can never be
// mistaken for numbers issued by the authority.
const LocalPrefix = "L-"

const localNumberLen = 10

var localEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewLocalNumber returns a fresh local confirmation number, "L-" followed by
// ten base32 characters drawn from a random UUID.
func NewLocalNumber() string {
	u := uuid.New()
	return LocalPrefix + localEncoding.EncodeToString(u[:])[:localNumberLen]
}

// IsLocalNumber reports whether n was issued locally.
func IsLocalNumber(n string) bool {
	return strings.HasPrefix(n, LocalPrefix)
}
