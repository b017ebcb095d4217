package refinement

import "github.com/google/uuid"

// newID returns a time-ordered UUIDv7 so ids sort like their creation times.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
