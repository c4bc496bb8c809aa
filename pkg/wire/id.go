package wire

import (
	"time"

	"github.com/google/uuid"
)

// GenerateID returns a random UUIDv4 string used for request and tab ids.
func GenerateID() string {
	return uuid.NewString()
}

// TimeNow is a wrapper for time.Now so tests can pin envelope timestamps.
var TimeNow = time.Now
