package docker

import "strings"

// ConflictFunc reports whether a failed create's combined output indicates a
// container name collision worth retrying, as opposed to a real failure.
type ConflictFunc func(output string) bool

// conflictSignatures are the messages the daemon has used for name
// collisions. The wording has drifted across releases, so every known
// variant is checked.
var conflictSignatures = []string{
	"Conflict. The container name",
	"Conflict. The name",
}

// NameConflict is the default ConflictFunc. It matches the known name
// collision message variants.
func NameConflict(output string) bool {
	for _, sig := range conflictSignatures {
		if strings.Contains(output, sig) {
			return true
		}
	}
	return false
}
