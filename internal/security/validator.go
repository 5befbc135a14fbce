package security

import (
	"net/http"
	"regexp"

	"pjdir/internal/constants"
)

// Mailbox IDs are opaque to the relay: clients derive them from session
// keys, so only a charset and length bound is enforced here.
var mailboxIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateMailboxID checks the format bound on a session/mailbox ID.
func ValidateMailboxID(id string) bool {
	if len(id) < constants.MinMailboxIDLen || len(id) > constants.MaxMailboxIDLen {
		return false
	}
	return mailboxIDRegex.MatchString(id)
}

// MaxBodySize middleware limits request body size
func MaxBodySize(maxSize int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			next.ServeHTTP(w, r)
		})
	}
}
