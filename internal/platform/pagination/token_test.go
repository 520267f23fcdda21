package pagination

import (
	"errors"
	"testing"
)

func TestEncodeTokenEmptyCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token, got %q", token)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := EncodeToken(Cursor{StartAfter: []any{"2026-01-02T03:04:05Z", "ord_1"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	cursor, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cursor.StartAfter) != 2 {
		t.Fatalf("expected two cursor values, got %d", len(cursor.StartAfter))
	}
	if cursor.StartAfter[1] != "ord_1" {
		t.Fatalf("unexpected cursor id: %v", cursor.StartAfter[1])
	}
}

func TestDecodeTokenEmpty(t *testing.T) {
	cursor, err := DecodeToken("  ")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cursor.StartAfter) != 0 || len(cursor.StartAt) != 0 {
		t.Fatalf("expected zero cursor, got %+v", cursor)
	}
}

func TestDecodeTokenInvalid(t *testing.T) {
	if _, err := DecodeToken("not-base64!!"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
	if _, err := DecodeToken("bm90LWpzb24"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken for non-JSON payload, got %v", err)
	}
}
