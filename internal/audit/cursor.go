package audit

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidCursor is returned for a cursor that does not decode, or that
// was issued for a different source filter.
var ErrInvalidCursor = errors.New("audit: invalid cursor")

// Cursor is the position after the last entry of a page in newest-first
// order. It carries the source filter the page was listed with, so every
// page of one listing sees the same slice of the trail.
type Cursor struct {
	CreatedAt time.Time `json:"t"`
	ID        string    `json:"id"`
	Source    Source    `json:"src,omitempty"`
}

// ListQuery selects one page of the trail. An empty Source lists every
// source.
type ListQuery struct {
	Limit  int
	Source Source
	After  *Cursor
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceEngine, SourceExternal, SourceFallback:
		return true
	}
	return false
}

// CursorAfter returns the cursor that resumes listing after e.
func CursorAfter(e *Entry, source Source) Cursor {
	return Cursor{CreatedAt: e.CreatedAt.UTC(), ID: e.ID, Source: source}
}

// Encode returns the opaque form handed to API clients.
func (c Cursor) Encode() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses an opaque cursor for a listing filtered by source.
// An empty string is the first page and yields nil.
func DecodeCursor(s string, source Source) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, ErrInvalidCursor
	}
	if c.CreatedAt.IsZero() || uuid.Validate(c.ID) != nil || c.Source != source {
		return nil, ErrInvalidCursor
	}
	return &c, nil
}

// includes reports whether e belongs on a page listed with q: it matches
// the source filter and sorts after the cursor.
func (q ListQuery) includes(e *Entry) bool {
	if q.Source != "" && e.Source != q.Source {
		return false
	}
	c := q.After
	if c == nil {
		return true
	}
	if e.CreatedAt.Equal(c.CreatedAt) {
		return e.ID < c.ID
	}
	return e.CreatedAt.Before(c.CreatedAt)
}

// Paginate trims entries, listed with q.Limit set to limit+1, to one page
// and returns the cursor for the next one. next is empty on the last page.
func Paginate(entries []*Entry, limit int, source Source) (page []*Entry, next string) {
	if limit <= 0 || len(entries) <= limit {
		return entries, ""
	}
	page = entries[:limit]
	return page, CursorAfter(page[limit-1], source).Encode()
}
