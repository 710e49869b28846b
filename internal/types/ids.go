package types

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionID represents a UUIDv7 execution identifier.
// String alias enables type safety while maintaining JSON string
// serialization. UUIDv7 time-ordering ensures sequential inserts cluster
// in B-tree indexes of the append-only ledger.
type ExecutionID string

// NewExecutionID generates a UUIDv7 execution identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewExecutionID() ExecutionID {
	return ExecutionID(uuid.Must(uuid.NewV7()).String())
}

// ParseExecutionID validates and converts a string to ExecutionID.
// Rejects malformed UUIDs to prevent invalid IDs from entering the system.
func ParseExecutionID(s string) (ExecutionID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return ExecutionID(s), nil
}

// ExecutionIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Enables time-based queries without a database lookup.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func ExecutionIDTime(id ExecutionID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
