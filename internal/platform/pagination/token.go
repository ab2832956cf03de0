package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cursor is the keyset position of the last item on a page, for listings ordered by a timestamp
// and a unique tie-breaking key, both descending.
type Cursor struct {
	Time time.Time `json:"t"`
	Key  string    `json:"k"`
}

// IsZero reports whether the cursor points at the first page.
func (c Cursor) IsZero() bool {
	return c.Key == "" && c.Time.IsZero()
}

// Before reports whether an item at (t, key) sorts after the cursor in descending order.
func (c Cursor) Before(t time.Time, key string) bool {
	if c.IsZero() {
		return true
	}
	if t.Equal(c.Time) {
		return key < c.Key
	}
	return t.Before(c.Time)
}

// EncodeToken serialises the provided cursor into a base64 URL-safe page token.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.IsZero() {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses the page token produced by EncodeToken back into a cursor.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if cursor.Key == "" {
		return Cursor{}, fmt.Errorf("%w: missing key", ErrInvalidPageToken)
	}
	return cursor, nil
}
