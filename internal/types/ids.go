package types

import (
	"time"

	"github.com/google/uuid"
)

// ArtifactID identifies one stored compilation artifact in the catalog.
// String alias enables type safety while maintaining JSON string serialization.
// UUIDv7 time-ordering ensures sequential inserts cluster in B-tree pages.
type ArtifactID string

// UnitID identifies one reverse-parsed unit's stored outcome.
type UnitID string

// NewArtifactID generates a UUIDv7 artifact identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewArtifactID() ArtifactID {
	return ArtifactID(uuid.Must(uuid.NewV7()).String())
}

// NewUnitID generates a UUIDv7 unit identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewUnitID() UnitID {
	return UnitID(uuid.Must(uuid.NewV7()).String())
}

// ParseArtifactID validates and converts a string to ArtifactID.
// Rejects malformed UUIDs to prevent invalid IDs from entering the catalog.
func ParseArtifactID(s string) (ArtifactID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return ArtifactID(s), nil
}

// ArtifactIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Enables time-based catalog queries without a database lookup.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func ArtifactIDTime(id ArtifactID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
