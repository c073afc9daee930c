package ws

import (
	"regexp"

	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/domain"
)

// idRegex matches client supplied user and session ids
var idRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// IsValidID validates a user or session id taken from the connection URL.
// Ids are 1-64 characters of letters, digits and _ . : -
func IsValidID(id string) bool {
	if id == "" || len(id) > domain.MaxIDLength {
		return false
	}
	return idRegex.MatchString(id)
}
