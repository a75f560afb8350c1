package provider

import (
	"strings"
	"sync/atomic"
)

// Rotation hands out pool entries round-robin. The cursor advances on every
// call regardless of whether the caller's request succeeds, so a quota error
// on one key is naturally followed by the next key on the next call.
// Safe for concurrent use.
type Rotation struct {
	items  []string
	cursor atomic.Uint64
}

// NewRotation builds a rotation over items, skipping blank entries.
func NewRotation(items []string) *Rotation {
	r := &Rotation{}
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			r.items = append(r.items, it)
		}
	}
	return r
}

// Next returns the entry under the cursor and advances it.
func (r *Rotation) Next() (string, error) {
	if len(r.items) == 0 {
		return "", ErrNoCredentials
	}
	n := r.cursor.Add(1) - 1
	return r.items[n%uint64(len(r.items))], nil
}

func (r *Rotation) Len() int {
	return len(r.items)
}
