package tree

import (
	"strings"

	"github.com/google/uuid"
)

// NewFileID mints a fresh file id for an entry being versioned under
// the given base name. The name is folded into the id purely as a
// debugging aid; uniqueness comes from the random suffix.
func NewFileID(name string) FileID {
	return FileID(sanitizeIDPrefix(name) + "-" + uuid.NewString())
}

// sanitizeIDPrefix reduces a base name to a short, safe id prefix.
func sanitizeIDPrefix(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if b.Len() >= 20 {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "x"
	}
	return b.String()
}
