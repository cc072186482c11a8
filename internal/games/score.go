package games

import (
	"crypto/rand"

	"github.com/google/uuid"

	"github.com/chronodle/chronodle/internal/events"
)

// Directive tells the player which event of the pair to pick.
type Directive int

const (
	Earlier Directive = iota
	Later
)

func (d Directive) String() string {
	if d == Later {
		return "later"
	}
	return "earlier"
}

// RandomDirective flips a coin using crypto/rand.
func RandomDirective() Directive {
	var b [1]byte
	_, _ = rand.Read(b[:])
	return Directive(b[0] & 1)
}

// IsCorrectSelection scores one round. Equal years accept either pick. Otherwise the
// correct id is the smaller year for Earlier and the larger year for Later.
func IsCorrectSelection(selected uuid.UUID, a, b events.DetailedEvent, d Directive) bool {
	if a.Year == b.Year {
		return true
	}
	earlier, later := a, b
	if b.Year < a.Year {
		earlier, later = b, a
	}
	if d == Earlier {
		return selected == earlier.ID
	}
	return selected == later.ID
}
