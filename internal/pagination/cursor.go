// Package pagination implements opaque keyset cursors over
// (created_at, id) ordering.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var errInvalidCursor = errors.New("invalid cursor")

// Cursor marks a position in a result set ordered by creation time then ID.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode packs a (timestamp, id) pair into an opaque string.
func Encode(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode unpacks an opaque cursor. An empty string decodes to nil, nil
// so callers can pass query parameters through directly.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, errInvalidCursor
	}
	nanosPart, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, errInvalidCursor
	}
	nanos, err := strconv.ParseInt(nanosPart, 10, 64)
	if err != nil {
		return nil, errInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// ComputePage trims a limit+1 fetch down to one page. It returns the page
// items, the cursor for the next page, and whether more rows exist.
// extractKey reports the ordering key of an item.
func ComputePage[T any](items []T, limit int, extractKey func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	createdAt, id := extractKey(items[len(items)-1])
	return items, Encode(createdAt, id), true
}
