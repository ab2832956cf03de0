package pagination

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if !params.Cursor.IsZero() || params.PageToken != "" {
		t.Fatalf("expected first page, got %#v", params)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values.Set("pageSize", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}

	for _, raw := range []string{"abc", "0", "-3"} {
		values.Set("pageSize", raw)
		if _, err := Parse(values, opts); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("expected ErrInvalidPageSize for %q got %v", raw, err)
		}
	}
}

func TestParsePageToken(t *testing.T) {
	cursor := Cursor{Time: time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC), Key: "ORD-2024-000042"}
	token, err := EncodeToken(cursor)
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}

	values := url.Values{}
	values.Set("pageToken", token)
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if !params.Cursor.Time.Equal(cursor.Time) || params.Cursor.Key != cursor.Key {
		t.Fatalf("expected cursor %#v, got %#v", cursor, params.Cursor)
	}

	values.Set("pageToken", "%%%")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken got %v", err)
	}
}

func TestCursorBefore(t *testing.T) {
	at := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	cursor := Cursor{Time: at, Key: "ORD-2024-000010"}

	if !cursor.Before(at.Add(-time.Second), "ORD-2024-000099") {
		t.Fatalf("older item should follow the cursor")
	}
	if !cursor.Before(at, "ORD-2024-000009") {
		t.Fatalf("same time with smaller key should follow the cursor")
	}
	if cursor.Before(at, "ORD-2024-000010") || cursor.Before(at.Add(time.Second), "A") {
		t.Fatalf("cursor item and newer items must not follow the cursor")
	}
	if !(Cursor{}).Before(at, "x") {
		t.Fatalf("zero cursor admits everything")
	}
}

func TestNormalize(t *testing.T) {
	if Normalize(0) != DefaultPageSize || Normalize(500) != DefaultMaxPageSize || Normalize(7) != 7 {
		t.Fatalf("unexpected normalisation")
	}
}
