package pagination

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestParseDefaultsWhenQueryEmpty(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" {
		t.Fatalf("expected empty page token, got %q", params.PageToken)
	}
}

func TestParsePageSizeBounds(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		opts Options
		want int
	}{
		{name: "explicit", raw: "24", opts: Options{}, want: 24},
		{name: "clamped to ceiling", raw: "500", opts: Options{MaxPageSize: 50}, want: 50},
		{name: "zero falls back", raw: "0", opts: Options{DefaultPageSize: 12}, want: 12},
		{name: "negative falls back", raw: "-3", opts: Options{DefaultPageSize: 12}, want: 12},
		{name: "default above ceiling is clamped", raw: "", opts: Options{DefaultPageSize: 80, MaxPageSize: 25}, want: 25},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			values := url.Values{}
			if tc.raw != "" {
				values.Set("page_size", tc.raw)
			}
			params, err := Parse(values, tc.opts)
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}
			if params.PageSize != tc.want {
				t.Fatalf("expected page size %d, got %d", tc.want, params.PageSize)
			}
		})
	}
}

func TestParseRejectsNonNumericPageSize(t *testing.T) {
	values := url.Values{"page_size": {"vingt"}}
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
}

func TestParseRejectsUndecodablePageToken(t *testing.T) {
	values := url.Values{"page_token": {"%%not-base64%%"}}
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestFromRequestReadsQueryString(t *testing.T) {
	cursor := Cursor{At: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC), DocID: "ord_01J0QXKF"}
	token := EncodeCursor(cursor)

	r := httptest.NewRequest("GET", "/api/v1/orders?page_size=5&page_token="+token, nil)
	params, err := FromRequest(r, Options{DefaultPageSize: 20})
	if err != nil {
		t.Fatalf("FromRequest error: %v", err)
	}
	if params.PageSize != 5 {
		t.Fatalf("expected page size 5, got %d", params.PageSize)
	}
	if params.PageToken != token {
		t.Fatalf("expected the raw token to pass through, got %q", params.PageToken)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	original := Cursor{At: time.Date(2026, 7, 2, 18, 30, 15, 250_000_000, time.UTC), DocID: "med_kagurabachi"}

	token := EncodeCursor(original)
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	decoded, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("DecodeCursor error: %v", err)
	}
	if !decoded.At.Equal(original.At) || decoded.DocID != original.DocID {
		t.Fatalf("round trip mismatch: got %+v", decoded)
	}
}

func TestEncodeCursorZeroValue(t *testing.T) {
	if token := EncodeCursor(Cursor{}); token != "" {
		t.Fatalf("zero cursor should encode empty, got %q", token)
	}
	cursor, err := DecodeCursor("")
	if err != nil {
		t.Fatalf("DecodeCursor error: %v", err)
	}
	if !cursor.At.IsZero() || cursor.DocID != "" {
		t.Fatalf("expected zero cursor, got %+v", cursor)
	}
}

func TestDecodeCursorMalformedPayload(t *testing.T) {
	// Valid base64 but no separator inside.
	if _, err := DecodeCursor("bm8tc2VwYXJhdG9y"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}
