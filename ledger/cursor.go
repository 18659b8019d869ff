package ledger

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// PageSize is fixed for every list operation.
const PageSize = 50

// Page is one forward-only slice of a list. NextCursor is empty on the
// last page.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// EncodeCursor makes an opaque cursor from the last id of a page.
func EncodeCursor(lastID string) string {
	if lastID == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(lastID))
}

// DecodeCursor returns the id to continue after. An empty cursor means
// "from the beginning" and decodes to "".
func DecodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	id, err := uuid.Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return id.String(), nil
}

// NewPage trims a result fetched with limit PageSize+1 and sets the cursor.
func NewPage[T any](items []T, idOf func(T) string) Page[T] {
	if len(items) <= PageSize {
		if items == nil {
			items = []T{}
		}
		return Page[T]{Items: items}
	}
	items = items[:PageSize]
	return Page[T]{Items: items, NextCursor: EncodeCursor(idOf(items[len(items)-1]))}
}
