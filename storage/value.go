package storage

import "time"

// Entry is a stored string value with an optional absolute expiry
type Entry struct {
	Value  []byte
	Expiry *time.Time
}

// ExpiredAt reports whether the entry is logically absent at now. An
// expiry equal to now counts as expired.
func (e *Entry) ExpiredAt(now time.Time) bool {
	return e.Expiry != nil && !e.Expiry.After(now)
}

// Size returns the approximate number of bytes held by the entry
func (e *Entry) Size() int64 {
	size := int64(len(e.Value))
	if e.Expiry != nil {
		size += 24
	}
	return size
}
