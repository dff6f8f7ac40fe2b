package store

import "time"

// Entry is a single cached row.
//
// Value holds the serialized payload; encoding and decoding belong to the
// layer above. ExpiresAt is an absolute UTC deadline: an entry past it is
// logically dead even while the row still exists physically.
type Entry struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time
}

// IsExpired checks whether the entry is expired at the given time.
func (e Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
