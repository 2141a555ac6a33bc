// Package uuid wraps github.com/google/uuid and makes version 7 (time-ordered)
// the default for every identifier modhost generates.
package uuid

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

type UUID = uuid.UUID

// Nil is the zero UUID.
var Nil = uuid.Nil

// New returns a UUIDv7 and panics if the random source fails.
func New() UUID {
	id, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return id
}

// NewRandom returns a UUIDv7 or the generation error.
func NewRandom() (UUID, error) {
	return uuid.NewV7()
}

func Parse(s string) (UUID, error) {
	return uuid.Parse(s)
}

func MustParse(s string) UUID {
	return uuid.MustParse(s)
}

func IsUUIDv7(id UUID) bool {
	return id.Version() == uuid.Version(7)
}

// GetTimestampFromUUID reads the millisecond timestamp in the top 48 bits.
func GetTimestampFromUUID(u UUID) time.Time {
	tsMillis := binary.BigEndian.Uint64(u[0:8]) >> 16
	return time.UnixMilli(int64(tsMillis))
}
