package pagination

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Cursor marks the last document of a served page. Lists here are ordered
// by a timestamp with the document ID as tiebreaker, so that pair is the
// whole resume position.
type Cursor struct {
	At    time.Time
	DocID string
}

// EncodeCursor serialises the cursor into an opaque URL-safe page token.
// A zero cursor encodes to the empty string, meaning no further pages.
func EncodeCursor(c Cursor) string {
	if c.DocID == "" && c.At.IsZero() {
		return ""
	}
	payload := c.At.UTC().Format(time.RFC3339Nano) + "|" + c.DocID
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// DecodeCursor reverses EncodeCursor. An empty token yields a zero cursor.
func DecodeCursor(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	at, docID, ok := strings.Cut(string(data), "|")
	if !ok || docID == "" {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrInvalidPageToken)
	}
	ts, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: bad cursor timestamp", ErrInvalidPageToken)
	}
	return Cursor{At: ts, DocID: docID}, nil
}
